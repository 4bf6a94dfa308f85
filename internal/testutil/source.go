package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"toggl-etl/internal/etl"
)

// FakeSource is an in-memory etl.Source. Entries are served per project in
// pages of PageSize, filtered by the requested date range.
type FakeSource struct {
	mu       sync.Mutex
	Projects []etl.RawProject
	Entries  map[int64][]etl.RawEntry
	PageSize int

	// ProjectsErr and PageErr, when set, are returned instead of data.
	ProjectsErr error
	PageErr     error

	// Calls records every FetchPage request.
	Calls []PageCall
}

// PageCall is one recorded FetchPage request.
type PageCall struct {
	ProjectID int64
	Range     etl.DateRange
	Page      int
}

// NewFakeSource creates a FakeSource serving the given projects.
func NewFakeSource(projects ...etl.RawProject) *FakeSource {
	return &FakeSource{
		Projects: projects,
		Entries:  make(map[int64][]etl.RawEntry),
		PageSize: 50,
	}
}

// AddEntries registers entries for their project ids.
func (s *FakeSource) AddEntries(entries ...etl.RawEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.Entries[e.ProjectID] = append(s.Entries[e.ProjectID], e)
	}
}

func (s *FakeSource) ListProjects(ctx context.Context) ([]etl.RawProject, error) {
	if s.ProjectsErr != nil {
		return nil, s.ProjectsErr
	}
	return s.Projects, nil
}

// FetchPage serves entries whose start date falls within r. Entries with an
// unparseable start are served in every range, and a zero range matches all.
func (s *FakeSource) FetchPage(ctx context.Context, projectID int64, r etl.DateRange, page int) ([]etl.RawEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, PageCall{ProjectID: projectID, Range: r, Page: page})
	if s.PageErr != nil {
		return nil, s.PageErr
	}
	if page < 1 {
		return nil, fmt.Errorf("invalid page %d", page)
	}

	var inRange []etl.RawEntry
	for _, e := range s.Entries[projectID] {
		if within(e, r) {
			inRange = append(inRange, e)
		}
	}

	size := s.PageSize
	if size <= 0 {
		size = 50
	}
	lo := (page - 1) * size
	if lo >= len(inRange) {
		return nil, nil
	}
	hi := min(lo+size, len(inRange))
	return inRange[lo:hi], nil
}

func within(e etl.RawEntry, r etl.DateRange) bool {
	if r.Since.IsZero() && r.Until.IsZero() {
		return true
	}
	start, err := etl.ParseTimestamp(e.Start)
	if err != nil {
		return true
	}
	day := start.UTC().Truncate(24 * time.Hour)
	return !day.Before(r.Since) && !day.After(r.Until)
}
