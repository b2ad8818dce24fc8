// Package export renders a timetable as an iCalendar feed so a student
// without a linked Google account can import the sessions manually.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/internhub/calsync/internal/event"
	"github.com/internhub/calsync/internal/slot"
)

// Timetable builds an iCalendar document for every valid slot. Invalid
// slots are skipped, matching the reconciler's batch behavior.
func Timetable(slots []slot.TimetableSlot, builder *event.Builder, params event.Params) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//internhub//calsync//EN")

	now := time.Now()
	added := 0
	for _, raw := range slots {
		normalized, err := slot.Normalize(raw)
		if err != nil {
			continue
		}

		payload := builder.Build(normalized, params)
		start, err := time.Parse(time.RFC3339, payload.Start.DateTime)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, payload.End.DateTime)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event end: %w", err)
		}

		vevent := ical.NewComponent(ical.CompEvent)
		vevent.Props.SetText(ical.PropUID, fmt.Sprintf("%s-%s@calsync", params.InternshipID, normalized.Key()))
		vevent.Props.SetText(ical.PropSummary, payload.Summary)
		vevent.Props.SetText(ical.PropDescription, payload.Description)
		if payload.Location != "" {
			vevent.Props.SetText(ical.PropLocation, payload.Location)
		}
		vevent.Props.SetDateTime(ical.PropDateTimeStart, start)
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, end)
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, now)

		cal.Children = append(cal.Children, vevent)
		added++
	}

	if added == 0 {
		return nil, fmt.Errorf("no valid slots to export")
	}
	return cal, nil
}

// Write encodes the timetable feed to w.
func Write(w io.Writer, slots []slot.TimetableSlot, builder *event.Builder, params event.Params) error {
	cal, err := Timetable(slots, builder, params)
	if err != nil {
		return err
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode iCalendar: %w", err)
	}
	return nil
}
