package ics

import (
	"reflect"
	"testing"
	"time"
)

// calendarWith wraps VEVENT bodies in a single VCALENDAR block.
func calendarWith(t *testing.T, vevents ...string) []ParsedEvent {
	t.Helper()
	body := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//calmerge//test//EN\n"
	for _, ve := range vevents {
		body += "BEGIN:VEVENT\n" + ve + "END:VEVENT\n"
	}
	body += "END:VCALENDAR\n"

	events, err := Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return events
}

var (
	windowStart = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
)

func TestExpand_NonRecurring(t *testing.T) {
	events := calendarWith(t,
		"UID:inside@test\nDTSTART:20250610T090000Z\nDTEND:20250610T100000Z\nSUMMARY:In\n",
		"UID:before@test\nDTSTART:20200610T090000Z\nSUMMARY:Too old\n",
		"UID:after@test\nDTSTART:20300610T090000Z\nSUMMARY:Too far\n",
	)

	occ, err := Expand(events, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 1 {
		t.Fatalf("expected exactly the in-window occurrence, got %d", len(occ))
	}
	got := occ[0]
	if got.UID != "inside@test" {
		t.Errorf("uid = %q", got.UID)
	}
	want := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	if !got.Start.Equal(want) || !got.End.Equal(want.Add(time.Hour)) {
		t.Errorf("start/end = %v/%v", got.Start, got.End)
	}
}

func TestExpand_DailyRecurrenceWindowBounded(t *testing.T) {
	// No COUNT or UNTIL: only the window bounds the expansion.
	events := calendarWith(t,
		"UID:daily@test\nDTSTART:20200101T090000Z\nDTEND:20200101T100000Z\nRRULE:FREQ=DAILY\nSUMMARY:Every day\n",
	)

	ws := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	we := time.Date(2025, 6, 3, 23, 59, 59, 0, time.UTC)

	occ, err := Expand(events, ws, we)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 3 {
		t.Fatalf("expected 3 occurrences inside window, got %d", len(occ))
	}
	for i, o := range occ {
		want := time.Date(2025, 6, 1+i, 9, 0, 0, 0, time.UTC)
		if !o.Start.Equal(want) {
			t.Errorf("occurrence %d start = %v, want %v", i, o.Start, want)
		}
		if !o.End.Equal(want.Add(time.Hour)) {
			t.Errorf("occurrence %d end = %v", i, o.End)
		}
		if o.UID != "daily@test" {
			t.Errorf("occurrence %d uid = %q", i, o.UID)
		}
	}
}

func TestExpand_ExDateRemovesInstance(t *testing.T) {
	events := calendarWith(t,
		"UID:run@test\nDTSTART:20250610T090000Z\nRRULE:FREQ=DAILY;COUNT=5\nEXDATE:20250612T090000Z\nSUMMARY:Run\n",
	)

	occ, err := Expand(events, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 4 {
		t.Fatalf("expected 4 occurrences after exclusion, got %d", len(occ))
	}
	excluded := time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)
	for _, o := range occ {
		if o.Start.Equal(excluded) {
			t.Fatalf("excluded instance %v still present", excluded)
		}
	}
}

func TestExpand_RDateAddsInstance(t *testing.T) {
	events := calendarWith(t,
		"UID:extra@test\nDTSTART:20250610T090000Z\nRRULE:FREQ=DAILY;COUNT=2\nRDATE:20250701T090000Z\nSUMMARY:Extra\n",
	)

	occ, err := Expand(events, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 3 {
		t.Fatalf("expected 2 rule instances plus 1 rdate, got %d", len(occ))
	}
	rdate := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	found := false
	for _, o := range occ {
		if o.Start.Equal(rdate) {
			found = true
		}
	}
	if !found {
		t.Fatalf("rdate instance %v missing", rdate)
	}
}

func TestExpand_TZIDExDateRemovesInstance(t *testing.T) {
	events := calendarWith(t,
		"UID:zoned@test\nDTSTART;TZID=America/New_York:20250610T090000\nDTEND;TZID=America/New_York:20250610T100000\nRRULE:FREQ=DAILY;COUNT=3\nEXDATE;TZID=America/New_York:20250611T090000\nSUMMARY:Zoned\n",
	)

	occ, err := Expand(events, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 2 {
		t.Fatalf("expected 2 occurrences after exclusion, got %d", len(occ))
	}
	// 09:00 America/New_York on 2025-06-11 is 13:00 UTC.
	excluded := time.Date(2025, 6, 11, 13, 0, 0, 0, time.UTC)
	for _, o := range occ {
		if o.Start.Equal(excluded) {
			t.Fatalf("excluded instance %v still present", excluded)
		}
	}
}

func TestExpand_TZIDRDateAddsInstance(t *testing.T) {
	events := calendarWith(t,
		"UID:zextra@test\nDTSTART;TZID=America/New_York:20250610T090000\nRRULE:FREQ=DAILY;COUNT=2\nRDATE;TZID=America/New_York:20250701T090000\nSUMMARY:Extra\n",
	)

	occ, err := Expand(events, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 3 {
		t.Fatalf("expected 2 rule instances plus 1 rdate, got %d", len(occ))
	}
	rdate := time.Date(2025, 7, 1, 13, 0, 0, 0, time.UTC)
	found := false
	for _, o := range occ {
		if o.Start.Equal(rdate) {
			found = true
		}
	}
	if !found {
		t.Fatalf("rdate instance %v missing", rdate)
	}
}

func TestExpand_TZIDRecurrenceIDOverride(t *testing.T) {
	events := calendarWith(t,
		"UID:zseries@test\nDTSTART;TZID=America/New_York:20250610T090000\nDTEND;TZID=America/New_York:20250610T100000\nRRULE:FREQ=DAILY;COUNT=3\nSUMMARY:Series\n",
		"UID:zseries@test\nRECURRENCE-ID;TZID=America/New_York:20250611T090000\nDTSTART;TZID=America/New_York:20250611T140000\nDTEND;TZID=America/New_York:20250611T150000\nSUMMARY:Moved\n",
	)

	occ, err := Expand(events, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occ))
	}

	moved := occ[1]
	if moved.Summary != "Moved" {
		t.Errorf("override summary = %q", moved.Summary)
	}
	// 14:00 America/New_York on 2025-06-11 is 18:00 UTC.
	want := time.Date(2025, 6, 11, 18, 0, 0, 0, time.UTC)
	if !moved.Start.Equal(want) {
		t.Errorf("override start = %v, want %v", moved.Start, want)
	}
}

func TestExpand_RecurrenceIDOverride(t *testing.T) {
	events := calendarWith(t,
		"UID:series@test\nDTSTART:20250610T090000Z\nDTEND:20250610T100000Z\nRRULE:FREQ=DAILY;COUNT=3\nSUMMARY:Series\n",
		"UID:series@test\nRECURRENCE-ID:20250611T090000Z\nDTSTART:20250611T140000Z\nDTEND:20250611T150000Z\nSUMMARY:Moved\n",
	)

	occ, err := Expand(events, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occ))
	}

	moved := occ[1]
	if moved.Summary != "Moved" {
		t.Errorf("override summary = %q", moved.Summary)
	}
	want := time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)
	if !moved.Start.Equal(want) {
		t.Errorf("override start = %v, want %v", moved.Start, want)
	}
}

func TestExpand_InvalidRRule(t *testing.T) {
	events := calendarWith(t,
		"UID:bad@test\nDTSTART:20250610T090000Z\nRRULE:FREQ=NEVERLY\nSUMMARY:Bad\n",
	)

	if _, err := Expand(events, windowStart, windowEnd); err == nil {
		t.Fatal("expected error for malformed RRULE")
	}
}

func TestExpand_WindowOrderValidation(t *testing.T) {
	if _, err := Expand(nil, windowEnd, windowStart); err == nil {
		t.Fatal("expected error for inverted window")
	}
}

func TestExpand_IdentityStable(t *testing.T) {
	body := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calmerge//test//EN
BEGIN:VEVENT
UID:stable@test
DTSTART:20250610T090000Z
RRULE:FREQ=WEEKLY;COUNT=4
SUMMARY:Weekly
END:VEVENT
END:VCALENDAR
`
	run := func() []ParsedEvent {
		events, err := Parse(body)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		return events
	}

	first, err := Expand(run(), windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	second, err := Expand(run(), windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("re-expanding identical input produced different occurrences")
	}
}
