package etl

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedEntry is a RawEntry with typed timestamps and flags, a canonical
// tag string and a derived duration.
type NormalizedEntry struct {
	ID          int64
	ProjectID   int64
	TaskID      *int64
	UserID      int64
	User        string
	Description string
	Start       time.Time
	End         time.Time
	Updated     time.Time
	Client      string
	Project     string
	IsBillable  bool
	UseStop     bool

	// Billed is the billed amount in Currency; invalid when the API sent none.
	Billed   decimal.NullDecimal
	Currency string

	// Tags is the comma-joined tag names; invalid (NULL) when the entry has none.
	Tags sql.NullString

	DurationSeconds int64
}

// TagNames returns the individual, whitespace-trimmed tag names of the entry.
func (e NormalizedEntry) TagNames() []string {
	return SplitTags(e.Tags)
}

// timestampLayouts are the accepted zone-aware encodings of API timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseTimestamp parses a zone-aware API timestamp into an absolute instant.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

// Normalize converts a concatenated batch of raw entries into typed rows, in
// input order. Any field that cannot be interpreted rejects the whole batch
// with a *ParseError. A negative duration is rejected the same way.
func Normalize(raw []RawEntry) ([]NormalizedEntry, error) {
	out := make([]NormalizedEntry, 0, len(raw))
	for _, r := range raw {
		n, err := normalizeEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func normalizeEntry(r RawEntry) (NormalizedEntry, error) {
	n := NormalizedEntry{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		TaskID:      r.TaskID,
		UserID:      r.UserID,
		User:        r.User,
		Description: r.Description,
		Client:      r.Client,
		Project:     r.Project,
		Billed:      r.Billable,
		Currency:    r.Currency,
		Tags:        CanonicalTags(string(r.Tags)),
	}

	times := []struct {
		field string
		value string
		dst   *time.Time
	}{
		{"start", r.Start, &n.Start},
		{"end", r.End, &n.End},
		{"updated", r.Updated, &n.Updated},
	}
	for _, ts := range times {
		t, err := ParseTimestamp(ts.value)
		if err != nil {
			return NormalizedEntry{}, &ParseError{EntryID: r.ID, Field: ts.field, Value: ts.value, Err: err}
		}
		*ts.dst = t
	}

	flags := []struct {
		field string
		value Flag
		dst   *bool
	}{
		{"is_billable", r.IsBillable, &n.IsBillable},
		{"use_stop", r.UseStop, &n.UseStop},
	}
	for _, f := range flags {
		b, err := f.value.Bool()
		if err != nil {
			return NormalizedEntry{}, &ParseError{EntryID: r.ID, Field: f.field, Value: string(f.value), Err: err}
		}
		*f.dst = b
	}

	n.DurationSeconds = int64(n.End.Sub(n.Start) / time.Second)
	if n.End.Before(n.Start) {
		return NormalizedEntry{}, &ParseError{
			EntryID: r.ID,
			Field:   "end",
			Value:   r.End,
			Err:     fmt.Errorf("end precedes start by %s", n.Start.Sub(n.End)),
		}
	}
	return n, nil
}

// ZeroDuration returns the ids of entries whose duration floors to zero seconds.
func ZeroDuration(entries []NormalizedEntry) []int64 {
	var ids []int64
	for _, e := range entries {
		if e.DurationSeconds == 0 {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Amount is a decimal sum in one currency.
type Amount struct {
	Currency string
	Total    decimal.Decimal
}

func (a Amount) String() string {
	if a.Currency == "" {
		return a.Total.StringFixed(2)
	}
	return a.Total.StringFixed(2) + " " + a.Currency
}

// BilledTotals sums the billed amounts of entries per currency, ordered by
// currency. Entries without an amount are skipped.
func BilledTotals(entries []NormalizedEntry) []Amount {
	sums := make(map[string]decimal.Decimal)
	for _, e := range entries {
		if !e.Billed.Valid {
			continue
		}
		sums[e.Currency] = sums[e.Currency].Add(e.Billed.Decimal)
	}
	totals := make([]Amount, 0, len(sums))
	for cur, total := range sums {
		totals = append(totals, Amount{Currency: cur, Total: total})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Currency < totals[j].Currency })
	return totals
}

// CanonicalTags turns a raw tag encoding into a comma-joined list of trimmed
// names. Empty encodings, including "[]", yield the NULL marker.
func CanonicalTags(raw string) sql.NullString {
	cleaned := strings.NewReplacer("[", "", "]", "", "'", "", `"`, "").Replace(raw)
	var names []string
	for _, part := range strings.Split(cleaned, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.Join(names, ", "), Valid: true}
}

// SplitTags splits a canonical tag string into trimmed, non-empty names.
func SplitTags(tags sql.NullString) []string {
	if !tags.Valid {
		return nil
	}
	var names []string
	for _, part := range strings.Split(tags.String, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
