package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RawEntry is one detailed time-entry record as returned by the reporting API.
// Timestamps, flags and tags are kept in their source encoding; Normalize
// turns them into typed values.
type RawEntry struct {
	ID          int64               `json:"id"`
	ProjectID   int64               `json:"pid"`
	TaskID      *int64              `json:"tid"`
	UserID      int64               `json:"uid"`
	User        string              `json:"user"`
	Description string              `json:"description"`
	Start       string              `json:"start"`
	End         string              `json:"end"`
	Updated     string              `json:"updated"`
	DurationMS  int64               `json:"dur"`
	Client      string              `json:"client"`
	Project     string              `json:"project"`
	IsBillable  Flag                `json:"is_billable"`
	UseStop     Flag                `json:"use_stop"`
	Billable    decimal.NullDecimal `json:"billable"` // billed amount, not a flag
	Currency    string              `json:"cur"`
	Tags        TagList             `json:"tags"`
}

// RawProject is one project record from the workspace project listing.
type RawProject struct {
	ID            int64  `json:"id"`
	WorkspaceID   int64  `json:"wid"`
	ClientID      *int64 `json:"cid"`
	Name          string `json:"name"`
	Billable      Flag   `json:"billable"`
	IsPrivate     Flag   `json:"is_private"`
	Active        Flag   `json:"active"`
	Template      Flag   `json:"template"`
	AutoEstimates Flag   `json:"auto_estimates"`
	At            string `json:"at"`
	CreatedAt     string `json:"created_at"`
	Color         string `json:"color"`
}

// Flag is a boolean-like source field. The API sends real booleans but older
// exports carry "True"/"False" strings or 0/1, so the raw token is kept and
// interpreted by Bool.
type Flag string

// UnmarshalJSON keeps the literal token; JSON strings are unquoted.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = Flag(s)
		return nil
	}
	*f = Flag(data)
	return nil
}

// Bool interprets the flag. Absent and null values are false.
func (f Flag) Bool() (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(f))) {
	case "true", "t", "1", "yes":
		return true, nil
	case "false", "f", "0", "no", "", "null":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", string(f))
	}
}

// TagList is the raw tag encoding of an entry: a JSON array of names, a
// bracketed list rendering such as "['a', 'b']", or a plain comma-separated
// string. JSON arrays are flattened to a comma-separated string on decode.
type TagList string

// UnmarshalJSON accepts an array of strings, a string, or null.
func (t *TagList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case len(data) > 0 && data[0] == '[':
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return fmt.Errorf("decoding tag list: %w", err)
		}
		*t = TagList(strings.Join(names, ","))
		return nil
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding tag list: %w", err)
		}
		*t = TagList(s)
		return nil
	}
}
