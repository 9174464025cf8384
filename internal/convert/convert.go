// Package convert turns expanded occurrences into uniform output records
// for the rendering layer. Conversion is a capability: the concrete target
// format is exchangeable behind the Converter interface.
package convert

import (
	"fmt"

	"calmerge/internal/model"
)

// Record is one output row. Every record is JSON-serializable and carries
// a "type" discriminator of "event" or "error".
type Record interface {
	RecordType() string
}

// Converter converts one occurrence, or one caught failure, into a Record.
type Converter interface {
	Convert(occ model.Occurrence) (Record, error)
	ConvertError(kind string, err error, trace, url string) Record
}

// ConversionError reports a failure while deriving an output record from a
// valid occurrence.
type ConversionError struct {
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert occurrence: %v", e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Kind returns the taxonomy name used in error records.
func (e *ConversionError) Kind() string { return "ConversionError" }

// Event is the uniform rendering of an occurrence.
type Event struct {
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	StartDateISO string     `json:"start_date_iso"`
	EndDateISO   string     `json:"end_date_iso"`
	Text         string     `json:"text"`
	Description  string     `json:"description"`
	Location     string     `json:"location,omitempty"`
	Geo          *model.Geo `json:"geo,omitempty"`
	UID          string     `json:"uid"`
	ICal         string     `json:"ical"`
	Sequence     int        `json:"sequence"`
	URL          string     `json:"url,omitempty"`
	ID           [2]string  `json:"id"`
	Type         string     `json:"type"`
}

func (*Event) RecordType() string { return "event" }

// ErrorRecord is the uniform rendering of a per-feed failure. Its
// timestamps are the moment of conversion, not of the failure, because the
// triggering moment may be unknown to the caller.
type ErrorRecord struct {
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	StartDateISO string `json:"start_date_iso"`
	EndDateISO   string `json:"end_date_iso"`
	Text         string `json:"text"`
	Description  string `json:"description"`
	Traceback    string `json:"traceback"`
	UID          string `json:"uid"`
	URL          string `json:"url,omitempty"`
	ID           string `json:"id"`
	Type         string `json:"type"`
}

func (*ErrorRecord) RecordType() string { return "error" }
