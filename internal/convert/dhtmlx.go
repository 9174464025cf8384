package convert

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"calmerge/internal/clock"
	"calmerge/internal/model"
)

const localLayout = "2006-01-02 15:04"

// Dhtmlx converts occurrences into the record shape consumed by the dhtmlx
// scheduler frontend: local display strings at minute precision plus full
// ISO-8601 variants, everything normalized to UTC first.
type Dhtmlx struct {
	// offset is the fixed display zone. It sits at -timeshift minutes
	// from UTC, following the JavaScript getTimezoneOffset sign
	// convention used by the scheduler.
	offset *time.Location
	clk    clock.Clock
}

// NewDhtmlx creates a converter for the given timeshift in minutes.
func NewDhtmlx(timeshiftMinutes int, clk clock.Clock) *Dhtmlx {
	if clk == nil {
		clk = clock.NewSystem()
	}
	sec := -timeshiftMinutes * 60
	return &Dhtmlx{
		offset: time.FixedZone(fmt.Sprintf("UTC%+dm", -timeshiftMinutes), sec),
		clk:    clk,
	}
}

// Convert renders one occurrence. The identity key is the (uid, local start
// string) pair, so two instances of one recurring series stay distinct and
// re-expanding identical input is identity-stable.
func (d *Dhtmlx) Convert(occ model.Occurrence) (Record, error) {
	if occ.Start.IsZero() {
		return nil, &ConversionError{Err: errors.New("occurrence has no start instant")}
	}

	start := d.normalize(occ.Start, occ)
	end := d.normalize(occ.End, occ)

	startDate := start.Format(localLayout)

	return &Event{
		StartDate:    startDate,
		EndDate:      end.Format(localLayout),
		StartDateISO: start.Format(time.RFC3339),
		EndDateISO:   end.Format(time.RFC3339),
		Text:         occ.Summary,
		Description:  occ.Description,
		Location:     occ.Location,
		Geo:          occ.Geo,
		UID:          occ.UID,
		ICal:         occ.Raw,
		Sequence:     occ.Sequence,
		URL:          occ.URL,
		ID:           [2]string{occ.UID, startDate},
		Type:         "event",
	}, nil
}

// normalize maps an occurrence instant to UTC. A date-only value is
// midnight in the display offset zone; a floating value is assumed to
// already be in that zone, so its wall-clock fields are rebuilt there.
func (d *Dhtmlx) normalize(t time.Time, occ model.Occurrence) time.Time {
	switch {
	case occ.DateOnly:
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, d.offset)
	case occ.Floating:
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), d.offset)
	}
	return t.UTC()
}

// ConvertError renders a caught per-feed failure as an error record
// timestamped at call time.
func (d *Dhtmlx) ConvertError(kind string, err error, trace, url string) Record {
	now := d.clk.Now().UTC()
	nowLocal := now.Format(localLayout)
	nowISO := now.Format(time.RFC3339)

	msg := ""
	if err != nil {
		msg = err.Error()
	}

	return &ErrorRecord{
		StartDate:    nowLocal,
		EndDate:      nowLocal,
		StartDateISO: nowISO,
		EndDateISO:   nowISO,
		Text:         kind,
		Description:  msg,
		Traceback:    trace,
		UID:          "error",
		URL:          url,
		ID:           "error-" + strconv.FormatInt(now.UnixNano(), 10),
		Type:         "error",
	}
}
