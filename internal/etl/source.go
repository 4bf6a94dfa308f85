package etl

import (
	"context"
	"fmt"
	"time"
)

// MaxPages is the number of pages requested per project and date range
// before giving up on reaching an empty page.
const MaxPages = 99

// Source is the remote time-tracking service.
type Source interface {
	// ListProjects returns every project of the configured workspace.
	ListProjects(ctx context.Context) ([]RawProject, error)

	// FetchPage returns one page of detailed entries for a project within a
	// date range. Pages are numbered from 1; an empty page ends the listing.
	FetchPage(ctx context.Context, projectID int64, r DateRange, page int) ([]RawEntry, error)
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Since time.Time
	Until time.Time
}

func (r DateRange) String() string {
	return r.Since.Format(time.DateOnly) + ".." + r.Until.Format(time.DateOnly)
}

// YearlyRanges partitions the extraction window into calendar years, from
// January 1st of baseYear through December 31st of the year of now.
func YearlyRanges(baseYear int, now time.Time) []DateRange {
	start := time.Date(baseYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(baseYear, time.December, 31, 0, 0, 0, 0, time.UTC)

	var ranges []DateRange
	for i := 0; i <= now.Year()-baseYear; i++ {
		ranges = append(ranges, DateRange{
			Since: start.AddDate(i, 0, 0),
			Until: end.AddDate(i, 0, 0),
		})
	}
	return ranges
}

// FetchEntries pulls every page for every (project, range) combination and
// concatenates the records in fetch order.
func FetchEntries(ctx context.Context, src Source, projectIDs []int64, ranges []DateRange, logger Logger) ([]RawEntry, error) {
	var all []RawEntry
	for _, pid := range projectIDs {
		for _, r := range ranges {
			got, err := fetchAllPages(ctx, src, pid, r, logger)
			if err != nil {
				return nil, err
			}
			all = append(all, got...)
		}
	}
	return all, nil
}

func fetchAllPages(ctx context.Context, src Source, projectID int64, r DateRange, logger Logger) ([]RawEntry, error) {
	var out []RawEntry
	for page := 1; page <= MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, &fetchError{what: fmt.Sprintf("project %d %s", projectID, r), err: err}
		}
		records, err := src.FetchPage(ctx, projectID, r, page)
		if err != nil {
			return nil, &fetchError{what: fmt.Sprintf("project %d %s page %d", projectID, r, page), err: err}
		}
		if len(records) == 0 {
			return out, nil
		}
		logger.Debug("page fetched", "project", projectID, "range", r.String(), "page", page, "records", len(records))
		out = append(out, records...)
	}
	logger.Warn("page limit reached", "project", projectID, "range", r.String(), "pages", MaxPages)
	return out, nil
}
