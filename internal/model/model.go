package model

import "time"

// Geo is a geographic position attached to an event.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Occurrence represents a single concrete instance of a calendar entry
// after recurrence expansion. It is transient: the expansion pipeline for
// one feed produces occurrences and discards them after conversion.
type Occurrence struct {
	UID      string
	Sequence int

	Summary     string
	Description string
	Location    string
	URL         string
	Geo         *Geo

	// Start / End carry the instant of this occurrence. For date-only
	// entries they hold midnight of that date and DateOnly is set; for
	// entries without any timezone information Floating is set and the
	// wall-clock fields are authoritative, not the carrier location.
	Start time.Time
	End   time.Time

	DateOnly bool
	Floating bool

	// Raw is the originating VEVENT re-serialized to its textual form.
	Raw string
}
