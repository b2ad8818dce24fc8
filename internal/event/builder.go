// Package event maps normalized timetable slots to Google Calendar event
// payloads carrying the private-property tag used for reconciliation.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"

	"github.com/internhub/calsync/internal/slot"
)

// Tag keys stored in the event's private extended properties. The pair
// {internshipId, slotKey} is the only correlation mechanism between a
// timetable slot and its remote event and must round-trip unchanged.
const (
	PropInternshipID = "internshipId"
	PropSlotKey      = "slotKey"
)

const eventColorID = "9"

// Params carries the per-internship context shared by every slot in one
// reconciliation run.
type Params struct {
	InternshipID     string
	InternshipTitle  string
	DefaultEventLink string
}

// Builder renders event payloads in the fixed scheduling timezone.
type Builder struct {
	loc    *time.Location
	tzName string
}

// NewBuilder creates a Builder for the given scheduling timezone. tzName
// is the IANA name sent to the calendar API alongside the offset.
func NewBuilder(loc *time.Location, tzName string) *Builder {
	return &Builder{loc: loc, tzName: tzName}
}

// Build produces the canonical event payload for one normalized slot.
// Hybrid slots resolve to the offline template when a physical address is
// present, otherwise to the online template.
func (b *Builder) Build(n slot.Normalized, p Params) *calendar.Event {
	start, end := b.instants(n)

	offline := n.Type == slot.TypeOffline ||
		(n.Type == slot.TypeHybrid && n.Location != nil && n.Location.Address != "")

	var ev *calendar.Event
	if offline {
		ev = b.offlineEvent(n, start, end)
	} else {
		ev = b.onlineEvent(n, p, start, end)
	}

	ev.ExtendedProperties = &calendar.EventExtendedProperties{
		Private: map[string]string{
			PropInternshipID: p.InternshipID,
			PropSlotKey:      n.Key(),
		},
	}
	return ev
}

// instants attaches the slot's local times of day to the scheduling
// timezone. An end time numerically at or before the start rolls over to
// the following day.
func (b *Builder) instants(n slot.Normalized) (start, end time.Time) {
	day, _ := time.ParseInLocation("2006-01-02", n.DateStr, b.loc)

	sh, sm := splitHM(n.StartTime)
	eh, em := splitHM(n.EndTime)

	start = day.Add(time.Duration(sh)*time.Hour + time.Duration(sm)*time.Minute)
	endDay := day
	if eh < sh || (eh == sh && em <= sm) {
		endDay = day.AddDate(0, 0, 1)
	}
	end = endDay.Add(time.Duration(eh)*time.Hour + time.Duration(em)*time.Minute)
	return start, end
}

func splitHM(hm string) (h, m int) {
	fmt.Sscanf(hm, "%d:%d", &h, &m)
	return h, m
}

func (b *Builder) onlineEvent(n slot.Normalized, p Params, start, end time.Time) *calendar.Event {
	instructor := n.Instructor
	if instructor == "" {
		instructor = "Instructor"
	}
	link := n.EventLink
	if link == "" {
		link = p.DefaultEventLink
	}
	displayLink := link
	if displayLink == "" {
		displayLink = "Link not available"
	}

	ev := &calendar.Event{
		Summary:     fmt.Sprintf("Online Section by %s", instructor),
		Description: b.describe(n, instructor) + fmt.Sprintf("Online Meeting Link: %s\n", displayLink),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: b.tzName},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: b.tzName},
		Reminders:   defaultReminders(),
		ColorId:     eventColorID,
		Visibility:  "default",
		Status:      "confirmed",
	}

	// No explicit meeting link: ask the provider to provision one unless
	// the slot opted out.
	if link == "" && n.IncludeMeet {
		ev.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             "meet-" + uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
	}
	return ev
}

func (b *Builder) offlineEvent(n slot.Normalized, start, end time.Time) *calendar.Event {
	instructor := n.Instructor
	if instructor == "" {
		instructor = "Instructor"
	}

	address, mapLink := "Offline", ""
	if n.Location != nil {
		if n.Location.Address != "" {
			address = n.Location.Address
		}
		mapLink = n.Location.MapLink
	}

	desc := b.describe(n, instructor) + fmt.Sprintf("Location: %s\n", address)
	if mapLink != "" {
		desc += fmt.Sprintf("Map: %s\n", mapLink)
	}

	location := mapLink
	if location == "" {
		location = address
	}

	return &calendar.Event{
		Summary:     fmt.Sprintf("Offline Section by %s", instructor),
		Description: desc,
		Location:    location,
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: b.tzName},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: b.tzName},
		Reminders:   defaultReminders(),
		ColorId:     eventColorID,
		Visibility:  "default",
		Status:      "confirmed",
	}
}

func (b *Builder) describe(n slot.Normalized, instructor string) string {
	topic := n.SectionSummary
	if topic == "" {
		topic = "Internship session"
	}
	day, _ := time.ParseInLocation("2006-01-02", n.DateStr, b.loc)
	return fmt.Sprintf(
		"Topic: %s\nInstructor: %s\nDate: %s\nTime: %s - %s (%s)\n",
		topic, instructor,
		day.Format("Monday, 2 January 2006"),
		n.StartTime, n.EndTime, b.tzName,
	)
}

// defaultReminders is the fixed schedule for every session: an email a
// day ahead and popups at 60, 15 and 1 minutes before start.
func defaultReminders() *calendar.EventReminders {
	return &calendar.EventReminders{
		UseDefault: false,
		Overrides: []*calendar.EventReminder{
			{Method: "email", Minutes: 1440},
			{Method: "popup", Minutes: 60},
			{Method: "popup", Minutes: 15},
			{Method: "popup", Minutes: 1},
		},
		ForceSendFields: []string{"UseDefault"},
	}
}

// WithoutConference returns a shallow copy of ev with any conference
// provisioning request removed. Used when the calendar rejects the
// request for the auto-provision capability.
func WithoutConference(ev *calendar.Event) *calendar.Event {
	clone := *ev
	clone.ConferenceData = nil
	return &clone
}
