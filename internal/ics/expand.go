package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calmerge/internal/log"
	"calmerge/internal/model"
)

const maxOccurrencesPerEvent = 5000

// Expand materializes every occurrence of the given events whose start
// falls inside [windowStart, windowEnd], inclusive. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence plus additional RDATE instances
//   - EXDATE exception removal
//   - RECURRENCE-ID overrides
//
// Events are processed in input order (calendar order), and a recurring
// event's instances come out in chronological order, so the result is
// deterministic for identical input.
func Expand(events []ParsedEvent, windowStart, windowEnd time.Time) ([]model.Occurrence, error) {
	if windowEnd.Before(windowStart) {
		return nil, errors.New("expand: window end is before window start")
	}

	// Overrides are matched to base events by UID.
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		}
	}

	out := make([]model.Occurrence, 0)

	for _, ev := range events {
		if ev.IsOverride {
			continue
		}
		occ, err := expandEvent(ev, overridesByUID[ev.UID], windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		out = append(out, occ...)
	}

	return out, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, windowStart, windowEnd time.Time) ([]model.Occurrence, error) {
	if ev.RawRRule == "" && len(ev.RDates) == 0 {
		return expandSingleEvent(ev, overrides, windowStart, windowEnd), nil
	}
	return expandRecurringEvent(ev, overrides, windowStart, windowEnd)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, windowStart, windowEnd time.Time) []model.Occurrence {
	if !startInWindow(ev.Start, windowStart, windowEnd) {
		return nil
	}

	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		start, end = o.Start, o.End
		ev = o
	}

	return []model.Occurrence{makeOccurrence(ev, start, end)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, windowStart, windowEnd time.Time) ([]model.Occurrence, error) {
	var set rrule.Set

	if ev.RawRRule != "" {
		r, err := rrule.StrToRRule(ev.RawRRule)
		if err != nil {
			return nil, &ParseError{Err: fmt.Errorf("event %s: RRULE %q: %w", ev.UID, ev.RawRRule, err)}
		}
		r.DTStart(ev.Start)
		set.RRule(r)
	} else {
		// RDATE-only recurrence still includes the base start.
		set.DTStart(ev.Start)
		set.RDate(ev.Start)
	}

	// Align RDATE/EXDATE values with the event's own location before they
	// enter the set, so exact-instant matching works.
	for _, rd := range ev.RDates {
		set.RDate(rd.In(ev.Start.Location()))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := windowStart.In(ev.Start.Location())
	rangeEnd := windowEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > maxOccurrencesPerEvent {
		occTimes = occTimes[:maxOccurrencesPerEvent]
		appLog.Warn("expand: truncated occurrences", "uid", ev.UID, "cap", maxOccurrencesPerEvent)
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.Occurrence, 0, len(occTimes))

	for _, occStart := range occTimes {
		occEnd := occStart.Add(dur)

		start, end, base := occStart, occEnd, ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			start, end, base = o.Start, o.End, o
		}

		out = append(out, makeOccurrence(base, start, end))
	}

	return out, nil
}

// findOverrideForStart finds an override whose RECURRENCE-ID matches the
// given instance start with exact instant equality.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.In(start.Location()).Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time) model.Occurrence {
	return model.Occurrence{
		UID:         ev.UID,
		Sequence:    ev.Seq,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		URL:         ev.URL,
		Geo:         ev.Geo,
		Start:       start,
		End:         end,
		DateOnly:    ev.DateOnly,
		Floating:    ev.Floating,
		Raw:         ev.Raw,
	}
}

func startInWindow(start, windowStart, windowEnd time.Time) bool {
	return !start.Before(windowStart) && !start.After(windowEnd)
}
