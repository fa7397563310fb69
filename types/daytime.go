package types

import (
	"encoding/json"
	"strings"
	"time"
)

// DateTime wraps a time.Time struct, allowing for improved dateTime JSON compatibility.
// Stations send timestamps with or without sub-second precision; responses are
// always rendered as ISO-8601 UTC.
type DateTime struct {
	time.Time
}

// NewDateTime Creates a new DateTime struct, embedding a time.Time struct.
func NewDateTime(time time.Time) *DateTime {
	return &DateTime{Time: time}
}

func (dt *DateTime) UnmarshalJSON(input []byte) error {
	var raw string
	if err := json.Unmarshal(input, &raw); err != nil {
		return err
	}
	raw = strings.Trim(raw, "\"")
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		parsed, err = time.Parse("2006-01-02T15:04:05", raw)
		if err != nil {
			return err
		}
	}
	dt.Time = parsed
	return nil
}

func (dt *DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.Time.UTC().Format(time.RFC3339))
}
