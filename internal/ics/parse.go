package ics

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calmerge/internal/log"
	"calmerge/internal/model"
)

// ParseError reports that feed text is not valid calendar data, or that an
// embedded value (date, rule, geo) is malformed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse calendar: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Kind returns the taxonomy name used in error records.
func (e *ParseError) Kind() string { return "ParseError" }

// ParsedEvent is the normalized representation of a VEVENT as produced by
// the parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	URL         string
	Geo         *model.Geo

	Start    time.Time
	End      time.Time
	DateOnly bool
	Floating bool

	RawRRule string
	RDates   []time.Time
	ExDates  []time.Time

	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT overrides a recurring instance

	// Raw is the VEVENT's original textual form as it appeared in the feed.
	Raw string
}

// Parse parses one feed body into a list of ParsedEvent. A single body may
// legally contain several VCALENDAR blocks; all of them are parsed, in
// document order. Any malformed block, and any VEVENT missing its UID,
// fails the whole feed with a *ParseError.
func Parse(body string) ([]ParsedEvent, error) {
	blocks := splitCalendars(body)
	if len(blocks) == 0 {
		return nil, &ParseError{Err: errors.New("no calendar data found")}
	}

	events := make([]ParsedEvent, 0)

	for i, block := range blocks {
		cal, err := ical.ParseCalendar(strings.NewReader(block))
		if err != nil {
			return nil, &ParseError{Err: fmt.Errorf("calendar block %d: %w", i+1, err)}
		}
		rawEvents := splitVEvents(block)
		for j, ve := range cal.Events() {
			raw := ""
			if j < len(rawEvents) {
				raw = rawEvents[j]
			}
			ev, perr := parseVEvent(ve, raw)
			if perr != nil {
				return nil, &ParseError{Err: perr}
			}
			events = append(events, ev)
		}
	}

	appLog.Debug("feed parse completed", "calendars", len(blocks), "events", len(events))
	return events, nil
}

// splitCalendars extracts the VCALENDAR blocks of a feed body, preserving
// document order. Text outside any block is ignored.
func splitCalendars(body string) []string {
	var blocks []string
	var current *strings.Builder

	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")

		if current == nil {
			if isDelimiter(line, "BEGIN:VCALENDAR") {
				current = &strings.Builder{}
				current.WriteString(line)
				current.WriteString("\r\n")
			}
			continue
		}

		current.WriteString(line)
		current.WriteString("\r\n")

		if isDelimiter(line, "END:VCALENDAR") {
			blocks = append(blocks, current.String())
			current = nil
		}
	}

	return blocks
}

// isDelimiter reports whether line is the given BEGIN/END marker. A line
// starting with space or tab is a folded continuation of the previous
// content line and never a marker, even when it unfolds to marker text.
func isDelimiter(line, marker string) bool {
	if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), marker)
}

func parseVEvent(ve *ical.VEvent, raw string) (ParsedEvent, error) {
	out := ParsedEvent{Raw: raw}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	// Use raw property names for constants that vary across library versions.
	if p := ve.GetProperty("URL"); p != nil {
		out.URL = p.Value
	}

	if p := ve.GetProperty("GEO"); p != nil && p.Value != "" {
		geo, err := parseGeo(p.Value)
		if err != nil {
			return out, fmt.Errorf("event %s: %w", out.UID, err)
		}
		out.Geo = geo
	}

	// Detect date-only and floating time from DTSTART before reading the
	// instants, since the value format decides which accessor applies.
	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil || dtStartProp.Value == "" {
		return out, fmt.Errorf("event %s: missing DTSTART", out.UID)
	}

	if params := dtStartProp.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.DateOnly = true
		}
	}
	if !strings.Contains(dtStartProp.Value, "T") {
		out.DateOnly = true
	}

	hasTZID := false
	if params := dtStartProp.ICalParameters; params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			hasTZID = true
		}
	}
	if !out.DateOnly && !hasTZID && !strings.HasSuffix(dtStartProp.Value, "Z") {
		out.Floating = true
	}

	var start, end time.Time
	var err error
	if out.DateOnly {
		// Date values are parsed from the raw property text; the library
		// helpers only cover the date-time forms.
		start, err = parseICSTime(dtStartProp.Value)
		if err != nil {
			return out, fmt.Errorf("event %s: DTSTART: %w", out.UID, err)
		}
		end = start
		if dtEndProp := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEndProp != nil && dtEndProp.Value != "" {
			if t, derr := parseICSTime(dtEndProp.Value); derr == nil {
				end = t
			}
		}
	} else {
		start, err = ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("event %s: DTSTART: %w", out.UID, err)
		}
		end, err = ve.GetEndAt()
		if err != nil {
			// No DTEND: the event ends when it starts.
			end = start
		}
	}
	out.Start = start
	out.End = end

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	out.RDates, err = parseDateProperties(ve, "RDATE")
	if err != nil {
		return out, fmt.Errorf("event %s: RDATE: %w", out.UID, err)
	}
	out.ExDates, err = parseDateProperties(ve, ical.ComponentPropertyExdate)
	if err != nil {
		return out, fmt.Errorf("event %s: EXDATE: %w", out.UID, err)
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		loc, lerr := propLocation(ridProp.ICalParameters)
		if lerr != nil {
			return out, fmt.Errorf("event %s: RECURRENCE-ID: %w", out.UID, lerr)
		}
		t, terr := parseICSTimeIn(ridProp.Value, loc)
		if terr != nil {
			return out, fmt.Errorf("event %s: RECURRENCE-ID: %w", out.UID, terr)
		}
		out.Recurrence = &t
		out.IsOverride = true
	}

	return out, nil
}

// splitVEvents extracts the raw VEVENT blocks of one calendar block, in
// document order, preserving the original property text.
func splitVEvents(block string) []string {
	var events []string
	var current *strings.Builder

	sc := bufio.NewScanner(strings.NewReader(block))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")

		if current == nil {
			if isDelimiter(line, "BEGIN:VEVENT") {
				current = &strings.Builder{}
				current.WriteString(line)
				current.WriteString("\r\n")
			}
			continue
		}

		current.WriteString(line)
		current.WriteString("\r\n")

		if isDelimiter(line, "END:VEVENT") {
			events = append(events, current.String())
			current = nil
		}
	}

	return events
}

// parseDateProperties parses every RDATE or EXDATE property of the event.
// Each property may carry a comma-separated value list and its own TZID
// parameter; values are resolved in that zone so they land on the same
// instants the library resolves DTSTART to.
func parseDateProperties(ve *ical.VEvent, name ical.ComponentProperty) ([]time.Time, error) {
	var out []time.Time
	for _, p := range ve.GetProperties(name) {
		loc, err := propLocation(p.ICalParameters)
		if err != nil {
			return nil, err
		}
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseICSTimeIn(part, loc)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// propLocation resolves a property's TZID parameter to a location. Values
// without a TZID stay in the local zone, matching floating-time semantics.
func propLocation(params map[string][]string) (*time.Location, error) {
	if params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 && tzs[0] != "" {
			loc, err := time.LoadLocation(tzs[0])
			if err != nil {
				return nil, fmt.Errorf("unknown TZID %q: %w", tzs[0], err)
			}
			return loc, nil
		}
	}
	return time.Local, nil
}

// parseGeo parses a GEO property value ("lat;lon") into coordinates.
func parseGeo(v string) (*model.Geo, error) {
	parts := strings.Split(strings.TrimSpace(v), ";")
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed GEO value %q", v)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("malformed GEO latitude %q", parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("malformed GEO longitude %q", parts[1])
	}
	return &model.Geo{Lat: lat, Lon: lon}, nil
}

// parseICSTime parses a basic ICS date/date-time string without parameter
// context, resolving zone-less values in the local zone.
func parseICSTime(v string) (time.Time, error) {
	return parseICSTimeIn(v, time.Local)
}

// parseICSTimeIn parses a basic ICS date/date-time string, resolving
// zone-less values in loc.
func parseICSTimeIn(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Zone-less date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, loc)
	}

	// Date-only, e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, loc)
}
