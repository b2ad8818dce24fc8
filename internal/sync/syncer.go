// Package sync reconciles a stored internship timetable with a student's
// Google calendar: list tagged events in the affected window, diff against
// the desired slot set by slot key, then create, patch and delete so the
// calendar reflects exactly the current timetable.
package sync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/internhub/calsync/internal/calendar"
	"github.com/internhub/calsync/internal/event"
	"github.com/internhub/calsync/internal/notify"
	"github.com/internhub/calsync/internal/progress"
	"github.com/internhub/calsync/internal/slot"
	"github.com/internhub/calsync/internal/token"
)

// Error codes recorded in Result.Errors and progress entries.
const (
	CodeBadInput     = "BAD_INPUT"
	CodeUpsertFailed = "UPSERT_FAILED"
	CodeDeleteFailed = "DELETE_FAILED"
	CodeNeedReauth   = "NEED_REAUTH"
)

// DefaultRetention is how long a terminal progress entry stays pollable.
const DefaultRetention = 5 * time.Minute

// Request describes one reconciliation run.
type Request struct {
	StudentEmail     string               `json:"studentEmail"`
	InternshipID     string               `json:"internshipId"`
	Timetable        []slot.TimetableSlot `json:"timetable"`
	InternshipTitle  string               `json:"internshipTitle,omitempty"`
	DefaultEventLink string               `json:"defaultEventLink,omitempty"`
}

// SlotError is one recovered per-slot failure.
type SlotError struct {
	Key     string `json:"key"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Counts are the mutation totals of a finished run.
type Counts struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Result is the authoritative outcome of a run.
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Counts  Counts      `json:"counts"`
	Errors  []SlotError `json:"errors"`
}

// ProviderFactory builds a calendar provider from the session's
// authenticated HTTP client.
type ProviderFactory func(ctx context.Context, httpClient *http.Client) (calendar.Provider, error)

// Syncer is the reconciliation engine.
type Syncer struct {
	tokens      *token.Manager
	progress    progress.Store
	notifier    notify.Notifier
	newProvider ProviderFactory
	builder     *event.Builder
	loc         *time.Location
	retention   time.Duration
	locks       *keyedMutex
	log         *zap.Logger
}

// New creates a Syncer. loc is the fixed scheduling timezone shared with
// the builder.
func New(tokens *token.Manager, store progress.Store, notifier notify.Notifier,
	factory ProviderFactory, builder *event.Builder, loc *time.Location, log *zap.Logger) *Syncer {
	return &Syncer{
		tokens:      tokens,
		progress:    store,
		notifier:    notifier,
		newProvider: factory,
		builder:     builder,
		loc:         loc,
		retention:   DefaultRetention,
		locks:       newKeyedMutex(),
		log:         log,
	}
}

// Progress returns the current progress snapshot for a scope, if any.
// Callers treat "no entry" as idle, not as an error.
func (s *Syncer) Progress(ctx context.Context, internshipID, email string) (progress.Snapshot, bool, error) {
	return s.progress.Get(ctx, progress.Key(internshipID, email))
}

// Reconcile converges the student's calendar to the timetable. Per-slot
// failures are collected in the result; only credential-level failures
// abort the run. Runs for the same scope are serialized.
func (s *Syncer) Reconcile(ctx context.Context, req Request) (*Result, error) {
	key := progress.Key(req.InternshipID, req.StudentEmail)
	unlock := s.locks.Lock(key)
	defer unlock()

	log := s.log.With(
		zap.String("internshipId", req.InternshipID),
		zap.String("email", req.StudentEmail),
	)

	session, err := s.tokens.Load(ctx, req.StudentEmail)
	if err != nil {
		if errors.Is(err, token.ErrNeedReauth) {
			return s.failReauth(ctx, req, key, log, err)
		}
		return s.failGeneric(ctx, key, log, err)
	}

	if len(req.Timetable) == 0 {
		// Fail fast with no remote calls.
		return &Result{Success: false, Message: "empty timetable", Errors: []SlotError{}}, errors.New("empty timetable")
	}

	provider, err := s.newProvider(ctx, session.Client)
	if err != nil {
		return s.fail(ctx, req, key, log, err)
	}

	counts := Counts{Total: len(req.Timetable)}
	slotErrors := []SlotError{}

	s.publish(ctx, key, progress.Update{
		Counts: &progress.Counts{Total: counts.Total},
		Phase:  progress.PhaseWorking,
	})

	// List existing tagged events in the padded window and index them by
	// slot key. Events without a usable tag are left untouched.
	existingByKey := map[string]*gcal.Event{}
	if timeMin, timeMax, ok := slot.DateRange(req.Timetable, s.loc); ok {
		existing, err := provider.ListTagged(ctx, req.InternshipID, timeMin, timeMax)
		if err != nil {
			return s.fail(ctx, req, key, log, err)
		}
		for _, ev := range existing {
			if ev.ExtendedProperties == nil || ev.ExtendedProperties.Private == nil {
				continue
			}
			if k := ev.ExtendedProperties.Private[event.PropSlotKey]; k != "" {
				existingByKey[k] = ev
			}
		}
		log.Debug("listed existing events", zap.Int("count", len(existing)))
	}

	params := event.Params{
		InternshipID:     req.InternshipID,
		InternshipTitle:  req.InternshipTitle,
		DefaultEventLink: req.DefaultEventLink,
	}

	// Upsert desired slots in input order. Two slots sharing a key are
	// the same logical slot; the later one wins.
	seen := map[string]bool{}
	for _, raw := range req.Timetable {
		slotKey := slot.KeyOf(raw)
		seen[slotKey] = true

		normalized, err := slot.Normalize(raw)
		if err != nil {
			slotErrors = append(slotErrors, SlotError{Key: slotKey, Code: CodeBadInput, Message: err.Error()})
			s.publishCounts(ctx, key, counts)
			continue
		}

		payload := s.builder.Build(normalized, params)
		existingID := ""
		if ex, ok := existingByKey[slotKey]; ok {
			existingID = ex.Id
		}

		upserted, err := s.upsert(ctx, provider, existingID, payload)
		switch {
		case err != nil:
			slotErrors = append(slotErrors, SlotError{Key: slotKey, Code: CodeUpsertFailed, Message: err.Error()})
			log.Warn("upsert failed", zap.String("slotKey", slotKey), zap.Error(err))
		case existingID != "":
			counts.Updated++
		default:
			counts.Created++
		}
		if upserted != nil {
			// Keep the index current so a later slot with the same key
			// patches this event instead of creating a duplicate: last
			// write wins.
			existingByKey[slotKey] = upserted
		}
		s.publishCounts(ctx, key, counts)
	}

	// Remove stale events: tagged events whose key no longer appears in
	// the timetable. Each deletion fails independently.
	for slotKey, ev := range existingByKey {
		if seen[slotKey] {
			continue
		}
		if err := provider.Delete(ctx, ev.Id); err != nil {
			slotErrors = append(slotErrors, SlotError{Key: slotKey, Code: CodeDeleteFailed, Message: err.Error()})
			log.Warn("delete failed", zap.String("slotKey", slotKey), zap.Error(err))
			continue
		}
		counts.Deleted++
	}

	if err := s.tokens.Persist(ctx, session); err != nil {
		log.Warn("failed to persist refreshed credential", zap.Error(err))
	}

	s.publish(ctx, key, progress.Update{
		Counts: &progress.Counts{
			Total:   counts.Total,
			Created: counts.Created,
			Updated: counts.Updated,
			Deleted: counts.Deleted,
		},
		Phase: progress.PhaseDone,
	})
	s.expire(ctx, key)

	log.Info("reconciliation complete",
		zap.Int("created", counts.Created),
		zap.Int("updated", counts.Updated),
		zap.Int("deleted", counts.Deleted),
		zap.Int("errors", len(slotErrors)))

	return &Result{Success: true, Counts: counts, Errors: slotErrors}, nil
}

// upsert patches the existing event or inserts a new one. When the
// payload requests conference auto-provisioning and the calendar rejects
// exactly that capability, it retries once with the request stripped.
func (s *Syncer) upsert(ctx context.Context, p calendar.Provider, existingID string, ev *gcal.Event) (*gcal.Event, error) {
	var out *gcal.Event
	var err error
	if existingID != "" {
		out, err = p.Patch(ctx, existingID, ev)
	} else {
		out, err = p.Insert(ctx, ev)
	}
	if err == nil {
		return out, nil
	}
	if ev.ConferenceData == nil || !calendar.IsConferenceBlocked(err) {
		return nil, err
	}

	stripped := event.WithoutConference(ev)
	if existingID != "" {
		out, err = p.Patch(ctx, existingID, stripped)
	} else {
		out, err = p.Insert(ctx, stripped)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fail classifies a run-level failure: authorization-shaped errors become
// NEED_REAUTH with the credential wiped, everything else is generic.
func (s *Syncer) fail(ctx context.Context, req Request, key string, log *zap.Logger, err error) (*Result, error) {
	classified := s.tokens.ClassifyFailure(ctx, req.StudentEmail, err)
	if errors.Is(classified, token.ErrNeedReauth) {
		return s.failReauth(ctx, req, key, log, classified)
	}
	return s.failGeneric(ctx, key, log, classified)
}

func (s *Syncer) failReauth(ctx context.Context, req Request, key string, log *zap.Logger, err error) (*Result, error) {
	log.Warn("reconciliation needs re-authorization", zap.Error(err))
	s.publish(ctx, key, progress.Update{
		Phase: progress.PhaseError,
		Code:  CodeNeedReauth,
		Error: "Google authorization expired or was revoked. Please re-link Google Calendar.",
	})
	s.expire(ctx, key)

	// Best effort; a notification failure never fails the run.
	if nerr := s.notifier.ReauthRequired(ctx, req.StudentEmail, req.InternshipID); nerr != nil {
		log.Warn("re-auth notification failed", zap.Error(nerr))
	}
	return &Result{Success: false, Message: CodeNeedReauth, Errors: []SlotError{}}, err
}

func (s *Syncer) failGeneric(ctx context.Context, key string, log *zap.Logger, err error) (*Result, error) {
	log.Error("reconciliation failed", zap.Error(err))
	s.publish(ctx, key, progress.Update{
		Phase: progress.PhaseError,
		Error: err.Error(),
	})
	s.expire(ctx, key)
	return &Result{Success: false, Message: err.Error(), Errors: []SlotError{}}, err
}

func (s *Syncer) publishCounts(ctx context.Context, key string, c Counts) {
	s.publish(ctx, key, progress.Update{
		Counts: &progress.Counts{
			Total:   c.Total,
			Created: c.Created,
			Updated: c.Updated,
			Deleted: c.Deleted,
		},
	})
}

func (s *Syncer) publish(ctx context.Context, key string, u progress.Update) {
	if _, err := s.progress.Set(ctx, key, u); err != nil {
		s.log.Warn("failed to publish progress", zap.String("key", key), zap.Error(err))
	}
}

func (s *Syncer) expire(ctx context.Context, key string) {
	if err := s.progress.ExpireAfter(ctx, key, s.retention); err != nil {
		s.log.Warn("failed to schedule progress expiry", zap.String("key", key), zap.Error(err))
	}
}
