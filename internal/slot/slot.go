// Package slot normalizes raw timetable entries into validated, canonical
// session slots and derives the stable identity key used to correlate a
// slot with its remote calendar event.
package slot

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SessionType describes how a session is delivered.
type SessionType string

const (
	TypeOnline  SessionType = "online"
	TypeOffline SessionType = "offline"
	TypeHybrid  SessionType = "hybrid"
)

// Location is the physical venue of an offline or hybrid session.
type Location struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	MapLink string `json:"mapLink,omitempty"`
}

// TimetableSlot is one raw scheduled session as supplied by the caller.
// Date accepts either a plain YYYY-MM-DD string or a full timestamp; a
// timestamp is truncated to its date part during normalization.
type TimetableSlot struct {
	Date           string      `json:"date"`
	StartTime      string      `json:"startTime"`
	EndTime        string      `json:"endTime"`
	Type           SessionType `json:"type"`
	Location       *Location   `json:"location,omitempty"`
	EventLink      string      `json:"eventLink,omitempty"`
	Instructor     string      `json:"instructor,omitempty"`
	SectionSummary string      `json:"sectionSummary,omitempty"`
	// IncludeMeet disables auto-provisioning of a video meeting when set
	// to false. Nil means enabled.
	IncludeMeet *bool `json:"includeMeet,omitempty"`
}

// Normalized is a validated slot with canonical date/time fields.
type Normalized struct {
	DateStr        string // YYYY-MM-DD
	StartTime      string // HH:MM, 24-hour
	EndTime        string // HH:MM, 24-hour
	Type           SessionType
	Location       *Location
	EventLink      string
	Instructor     string
	SectionSummary string
	IncludeMeet    bool
}

// Key returns the slot's identity: two slots with equal date and start
// time are the same logical slot regardless of their other fields.
func (n Normalized) Key() string {
	return n.DateStr + "_" + n.StartTime
}

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)
)

// BadInputError reports a slot that failed validation. The Key is the
// best-effort identity of the offending slot so callers can surface it.
type BadInputError struct {
	Key    string
	Reason string
}

func (e *BadInputError) Error() string {
	return fmt.Sprintf("bad input for slot %s: %s", e.Key, e.Reason)
}

// DatePart truncates a raw date value to its YYYY-MM-DD prefix when it
// carries a time component.
func DatePart(raw string) string {
	if i := strings.IndexByte(raw, 'T'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// KeyOf derives the identity key of a raw slot without validating it.
// It mirrors Normalized.Key for valid slots and stays deterministic for
// invalid ones so errors can still reference a key.
func KeyOf(s TimetableSlot) string {
	return DatePart(s.Date) + "_" + s.StartTime
}

// Normalize validates one raw slot and produces its canonical form.
func Normalize(s TimetableSlot) (Normalized, error) {
	key := KeyOf(s)

	dateStr := DatePart(s.Date)
	if !dateRe.MatchString(dateStr) {
		return Normalized{}, &BadInputError{Key: key, Reason: fmt.Sprintf("invalid date %q", s.Date)}
	}
	if _, err := time.Parse("2006-01-02", dateStr); err != nil {
		return Normalized{}, &BadInputError{Key: key, Reason: fmt.Sprintf("invalid calendar date %q", dateStr)}
	}
	if !timeRe.MatchString(s.StartTime) {
		return Normalized{}, &BadInputError{Key: key, Reason: fmt.Sprintf("invalid start time %q", s.StartTime)}
	}
	if !timeRe.MatchString(s.EndTime) {
		return Normalized{}, &BadInputError{Key: key, Reason: fmt.Sprintf("invalid end time %q", s.EndTime)}
	}

	typ := s.Type
	switch typ {
	case TypeOnline, TypeOffline, TypeHybrid:
	case "":
		// Default to online formatting to be safe.
		typ = TypeOnline
	default:
		typ = TypeOnline
	}

	return Normalized{
		DateStr:        dateStr,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		Type:           typ,
		Location:       s.Location,
		EventLink:      s.EventLink,
		Instructor:     s.Instructor,
		SectionSummary: s.SectionSummary,
		IncludeMeet:    s.IncludeMeet == nil || *s.IncludeMeet,
	}, nil
}

// DateRange returns the smallest window covering every parseable slot
// date, padded by one day on each side to guard against timezone edge
// effects at the boundaries. ok is false when no slot date parses.
func DateRange(slots []TimetableSlot, loc *time.Location) (timeMin, timeMax time.Time, ok bool) {
	for _, s := range slots {
		d, err := time.ParseInLocation("2006-01-02", DatePart(s.Date), loc)
		if err != nil {
			continue
		}
		if !ok || d.Before(timeMin) {
			timeMin = d
		}
		if !ok || d.After(timeMax) {
			timeMax = d
		}
		ok = true
	}
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return timeMin.AddDate(0, 0, -1), timeMax.AddDate(0, 0, 2), true
}
