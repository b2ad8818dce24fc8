package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internhub/calsync/internal/event"
	"github.com/internhub/calsync/internal/slot"
)

func newTestBuilder() *event.Builder {
	loc := time.FixedZone("Asia/Kolkata", 330*60)
	return event.NewBuilder(loc, "Asia/Kolkata")
}

func TestWriteRendersTimetable(t *testing.T) {
	slots := []slot.TimetableSlot{
		{Date: "2025-03-10", StartTime: "09:00", EndTime: "10:00", Type: slot.TypeOnline, SectionSummary: "Kickoff"},
		{Date: "2025-03-11", StartTime: "14:00", EndTime: "16:00", Type: slot.TypeOffline,
			Location: &slot.Location{Address: "12 MG Road"}},
	}

	var buf bytes.Buffer
	err := Write(&buf, slots, newTestBuilder(), event.Params{InternshipID: "intern-1"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "BEGIN:VEVENT")
	assert.Contains(t, out, "UID:intern-1-2025-03-10_09:00@calsync")
	assert.Contains(t, out, "UID:intern-1-2025-03-11_14:00@calsync")
	assert.Contains(t, out, "DTSTART")
	assert.Contains(t, out, "Online Section by Instructor")
}

func TestTimetableSkipsInvalidSlots(t *testing.T) {
	cal, err := Timetable([]slot.TimetableSlot{
		{Date: "2025-03-10", StartTime: "09:00", EndTime: "10:00"},
		{Date: "2025-03-11", StartTime: "25:00", EndTime: "10:00"},
	}, newTestBuilder(), event.Params{InternshipID: "intern-1"})
	require.NoError(t, err)
	assert.Len(t, cal.Children, 1)
}

func TestTimetableRejectsAllInvalid(t *testing.T) {
	_, err := Timetable([]slot.TimetableSlot{
		{Date: "garbage", StartTime: "09:00", EndTime: "10:00"},
	}, newTestBuilder(), event.Params{InternshipID: "intern-1"})
	assert.Error(t, err)
}
