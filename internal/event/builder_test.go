package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internhub/calsync/internal/slot"
)

var kolkata = time.FixedZone("Asia/Kolkata", 330*60)

func newTestBuilder() *Builder {
	return NewBuilder(kolkata, "Asia/Kolkata")
}

func mustNormalize(t *testing.T, s slot.TimetableSlot) slot.Normalized {
	t.Helper()
	n, err := slot.Normalize(s)
	require.NoError(t, err)
	return n
}

func TestBuildTimesInSchedulingZone(t *testing.T) {
	b := newTestBuilder()
	n := mustNormalize(t, slot.TimetableSlot{
		Date:      "2025-03-10",
		StartTime: "09:00",
		EndTime:   "10:00",
		Type:      slot.TypeOnline,
	})

	ev := b.Build(n, Params{InternshipID: "intern-1"})
	require.NotNil(t, ev.Start)
	require.NotNil(t, ev.End)
	assert.Equal(t, "2025-03-10T09:00:00+05:30", ev.Start.DateTime)
	assert.Equal(t, "2025-03-10T10:00:00+05:30", ev.End.DateTime)
	assert.Equal(t, "Asia/Kolkata", ev.Start.TimeZone)
	assert.Equal(t, "Asia/Kolkata", ev.End.TimeZone)
}

func TestBuildEndRollsOverToNextDay(t *testing.T) {
	b := newTestBuilder()

	tests := []struct {
		start, end string
		wantEnd    string
	}{
		{"23:00", "01:00", "2025-03-11T01:00:00+05:30"},
		{"09:00", "09:00", "2025-03-11T09:00:00+05:30"},
		{"10:30", "10:15", "2025-03-11T10:15:00+05:30"},
	}
	for _, tc := range tests {
		n := mustNormalize(t, slot.TimetableSlot{
			Date:      "2025-03-10",
			StartTime: tc.start,
			EndTime:   tc.end,
		})
		ev := b.Build(n, Params{InternshipID: "intern-1"})
		assert.Equal(t, tc.wantEnd, ev.End.DateTime, "%s-%s", tc.start, tc.end)
	}
}

func TestBuildTagsEvent(t *testing.T) {
	b := newTestBuilder()
	n := mustNormalize(t, slot.TimetableSlot{
		Date:      "2025-03-10",
		StartTime: "09:00",
		EndTime:   "10:00",
	})

	ev := b.Build(n, Params{InternshipID: "intern-42"})
	require.NotNil(t, ev.ExtendedProperties)
	require.NotNil(t, ev.ExtendedProperties.Private)
	assert.Equal(t, "intern-42", ev.ExtendedProperties.Private[PropInternshipID])
	assert.Equal(t, "2025-03-10_09:00", ev.ExtendedProperties.Private[PropSlotKey])
}

func TestBuildReminders(t *testing.T) {
	b := newTestBuilder()
	n := mustNormalize(t, slot.TimetableSlot{
		Date:      "2025-03-10",
		StartTime: "09:00",
		EndTime:   "10:00",
	})

	ev := b.Build(n, Params{InternshipID: "intern-1"})
	require.NotNil(t, ev.Reminders)
	assert.False(t, ev.Reminders.UseDefault)
	assert.Contains(t, ev.Reminders.ForceSendFields, "UseDefault")

	got := map[string][]int64{}
	for _, r := range ev.Reminders.Overrides {
		got[r.Method] = append(got[r.Method], r.Minutes)
	}
	assert.Equal(t, []int64{1440}, got["email"])
	assert.ElementsMatch(t, []int64{60, 15, 1}, got["popup"])
}

func TestBuildOnlineConferenceRequest(t *testing.T) {
	b := newTestBuilder()
	base := slot.TimetableSlot{
		Date:      "2025-03-10",
		StartTime: "09:00",
		EndTime:   "10:00",
		Type:      slot.TypeOnline,
	}

	t.Run("provisioned when no link", func(t *testing.T) {
		ev := b.Build(mustNormalize(t, base), Params{InternshipID: "i"})
		require.NotNil(t, ev.ConferenceData)
		require.NotNil(t, ev.ConferenceData.CreateRequest)
		assert.NotEmpty(t, ev.ConferenceData.CreateRequest.RequestId)
		assert.Equal(t, "hangoutsMeet", ev.ConferenceData.CreateRequest.ConferenceSolutionKey.Type)
		assert.Contains(t, ev.Description, "Link not available")
	})

	t.Run("skipped when slot has a link", func(t *testing.T) {
		s := base
		s.EventLink = "https://meet.example.com/abc"
		ev := b.Build(mustNormalize(t, s), Params{InternshipID: "i"})
		assert.Nil(t, ev.ConferenceData)
		assert.Contains(t, ev.Description, "https://meet.example.com/abc")
	})

	t.Run("falls back to default link", func(t *testing.T) {
		ev := b.Build(mustNormalize(t, base), Params{InternshipID: "i", DefaultEventLink: "https://zoom.example.com/x"})
		assert.Nil(t, ev.ConferenceData)
		assert.Contains(t, ev.Description, "https://zoom.example.com/x")
	})

	t.Run("skipped when meet disabled", func(t *testing.T) {
		off := false
		s := base
		s.IncludeMeet = &off
		ev := b.Build(mustNormalize(t, s), Params{InternshipID: "i"})
		assert.Nil(t, ev.ConferenceData)
	})
}

func TestBuildOfflineEvent(t *testing.T) {
	b := newTestBuilder()
	n := mustNormalize(t, slot.TimetableSlot{
		Date:      "2025-03-10",
		StartTime: "09:00",
		EndTime:   "10:00",
		Type:      slot.TypeOffline,
		Location: &slot.Location{
			Name:    "HQ",
			Address: "12 MG Road, Bengaluru",
			MapLink: "https://maps.example.com/hq",
		},
		Instructor: "Asha",
	})

	ev := b.Build(n, Params{InternshipID: "i"})
	assert.Equal(t, "Offline Section by Asha", ev.Summary)
	assert.Equal(t, "https://maps.example.com/hq", ev.Location)
	assert.Contains(t, ev.Description, "12 MG Road, Bengaluru")
	assert.Nil(t, ev.ConferenceData)
}

func TestBuildHybridResolution(t *testing.T) {
	b := newTestBuilder()
	base := slot.TimetableSlot{
		Date:      "2025-03-10",
		StartTime: "09:00",
		EndTime:   "10:00",
		Type:      slot.TypeHybrid,
	}

	t.Run("offline with address", func(t *testing.T) {
		s := base
		s.Location = &slot.Location{Address: "12 MG Road"}
		ev := b.Build(mustNormalize(t, s), Params{InternshipID: "i"})
		assert.Contains(t, ev.Summary, "Offline Section")
	})

	t.Run("online without address", func(t *testing.T) {
		ev := b.Build(mustNormalize(t, base), Params{InternshipID: "i"})
		assert.Contains(t, ev.Summary, "Online Section")
	})
}

func TestWithoutConference(t *testing.T) {
	b := newTestBuilder()
	n := mustNormalize(t, slot.TimetableSlot{
		Date:      "2025-03-10",
		StartTime: "09:00",
		EndTime:   "10:00",
	})

	ev := b.Build(n, Params{InternshipID: "i"})
	require.NotNil(t, ev.ConferenceData)

	stripped := WithoutConference(ev)
	assert.Nil(t, stripped.ConferenceData)
	assert.NotNil(t, ev.ConferenceData)
	assert.Equal(t, ev.Summary, stripped.Summary)
	assert.Equal(t, ev.ExtendedProperties, stripped.ExtendedProperties)
}
