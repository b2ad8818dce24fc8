package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/internhub/calsync/internal/event"
)

const (
	primaryCalendarID = "primary"
	listPageSize      = 2500
)

// GoogleClient is the Google Calendar implementation of Provider. All
// mutations target the user's primary calendar and suppress attendee
// notifications.
type GoogleClient struct {
	svc   *calendar.Service
	retry RetryPolicy
	log   *zap.Logger
}

// NewGoogleClient creates a provider from an already-authenticated HTTP
// client (see token.Manager). Extra options may override the API
// endpoint.
func NewGoogleClient(ctx context.Context, httpClient *http.Client, retry RetryPolicy, log *zap.Logger, opts ...option.ClientOption) (*GoogleClient, error) {
	svc, err := calendar.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleClient{svc: svc, retry: retry, log: log}, nil
}

// ListTagged lists every event carrying the internship tag inside the
// window. Pagination is fully drained before returning: a partial listing
// would misclassify live sessions as stale and delete them.
func (c *GoogleClient) ListTagged(ctx context.Context, internshipID string, timeMin, timeMax time.Time) ([]*calendar.Event, error) {
	var (
		items     []*calendar.Event
		pageToken string
	)
	for {
		var page *calendar.Events
		err := c.retry.Do(ctx, func() error {
			var callErr error
			page, callErr = c.svc.Events.List(primaryCalendarID).
				PrivateExtendedProperty(event.PropInternshipID+"="+internshipID).
				TimeMin(timeMin.Format(time.RFC3339)).
				TimeMax(timeMax.Format(time.RFC3339)).
				SingleEvents(true).
				MaxResults(listPageSize).
				PageToken(pageToken).
				Context(ctx).
				Do()
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		items = append(items, page.Items...)
		pageToken = page.NextPageToken
		if pageToken == "" {
			return items, nil
		}
	}
}

func (c *GoogleClient) Insert(ctx context.Context, ev *calendar.Event) (*calendar.Event, error) {
	var created *calendar.Event
	err := c.retry.Do(ctx, func() error {
		call := c.svc.Events.Insert(primaryCalendarID, ev).
			SendUpdates("none").
			Context(ctx)
		if ev.ConferenceData != nil {
			call = call.ConferenceDataVersion(1)
		}
		var callErr error
		created, callErr = call.Do()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	return created, nil
}

func (c *GoogleClient) Patch(ctx context.Context, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	var updated *calendar.Event
	err := c.retry.Do(ctx, func() error {
		call := c.svc.Events.Patch(primaryCalendarID, eventID, ev).
			SendUpdates("none").
			Context(ctx)
		if ev.ConferenceData != nil {
			call = call.ConferenceDataVersion(1)
		}
		var callErr error
		updated, callErr = call.Do()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to patch event: %w", err)
	}
	return updated, nil
}

func (c *GoogleClient) Delete(ctx context.Context, eventID string) error {
	err := c.retry.Do(ctx, func() error {
		return c.svc.Events.Delete(primaryCalendarID, eventID).
			SendUpdates("none").
			Context(ctx).
			Do()
	})
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

var _ Provider = (*GoogleClient)(nil)
