// Package calendar abstracts the remote calendar provider behind a small
// interface and classifies its failures into structured kinds, so the
// reconciliation logic never inspects provider error strings itself.
package calendar

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// Provider is the capability the reconciler needs from a remote calendar.
// Implementations own per-call retry; callers own the diff and ordering.
type Provider interface {
	// ListTagged returns every event tagged with the internship id inside
	// the window, following continuation tokens until exhausted.
	ListTagged(ctx context.Context, internshipID string, timeMin, timeMax time.Time) ([]*calendar.Event, error)
	Insert(ctx context.Context, ev *calendar.Event) (*calendar.Event, error)
	Patch(ctx context.Context, eventID string, ev *calendar.Event) (*calendar.Event, error)
	Delete(ctx context.Context, eventID string) error
}

// ErrorKind is the structured classification of a provider failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimited
	KindTransient
	KindAuthExpired
	KindForbidden
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindAuthExpired:
		return "auth_expired"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

var (
	transientReasonRe = regexp.MustCompile(`(?i)rateLimitExceeded|userRateLimitExceeded|backendError|internalError|timeout`)
	authFailureRe     = regexp.MustCompile(`(?i)invalid[_-]?grant|invalid[_-]?credentials|unauthorized|insufficient.*permission`)
)

// Classify maps a provider error to its structured kind. The string and
// status-code matching for Google responses lives only here.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return KindAuthExpired
		case http.StatusForbidden:
			for _, item := range gerr.Errors {
				if transientReasonRe.MatchString(item.Reason) {
					return KindRateLimited
				}
			}
			if authFailureRe.MatchString(gerr.Message) {
				return KindAuthExpired
			}
			return KindForbidden
		case http.StatusNotFound:
			return KindNotFound
		case http.StatusTooManyRequests:
			return KindRateLimited
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return KindTransient
		}
		if authFailureRe.MatchString(gerr.Message) {
			return KindAuthExpired
		}
		return KindUnknown
	}

	// Token refresh failures surface from the oauth2 transport, not as
	// googleapi errors.
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil && rerr.Response.StatusCode == http.StatusUnauthorized {
			return KindAuthExpired
		}
		if rerr.ErrorCode == "invalid_grant" || authFailureRe.MatchString(rerr.Error()) {
			return KindAuthExpired
		}
	}

	msg := err.Error()
	if authFailureRe.MatchString(msg) {
		return KindAuthExpired
	}
	if transientReasonRe.MatchString(msg) {
		return KindTransient
	}
	return KindUnknown
}

// IsTransient reports whether the failure is worth retrying with backoff.
func IsTransient(err error) bool {
	switch Classify(err) {
	case KindRateLimited, KindTransient:
		return true
	}
	return false
}

// IsAuthFailure reports whether the failure means the stored credential
// is unusable and the user must re-authorize.
func IsAuthFailure(err error) bool {
	return Classify(err) == KindAuthExpired
}

// IsConferenceBlocked reports whether the calendar rejected a request
// specifically over the conference auto-provision capability. Upserts
// whose payload carries a conference request retry once without it.
func IsConferenceBlocked(err error) bool {
	if err == nil {
		return false
	}
	if Classify(err) == KindForbidden {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "conferencedata")
}
