package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"meetcost/internal/models"
)

// ErrCursorInvalid signals that the remote calendar rejected a sync cursor
// as expired. Distinct from transient failures: the caller drops the cursor
// and the fetch is retried as a windowed full scan.
var ErrCursorInvalid = errors.New("sync cursor invalid")

const maxResultsPerPage = 2500

// eventFields is the partial-response mask on every list call; anything the
// engine does not evaluate stays off the wire.
var eventFields = googleapi.Field(
	"items(id,recurringEventId,status,summary,start,end,organizer,attendees,description,extendedProperties),nextPageToken,nextSyncToken")

// CalendarService talks to the Calendar API on behalf of individual members,
// impersonating each via domain-wide delegation. All calls share one rate
// limiter.
type CalendarService struct {
	logger      *slog.Logger
	credentials []byte
	limiter     *rate.Limiter
	window      time.Duration

	mu       sync.Mutex
	services map[string]*calendar.Service
}

// NewCalendarService creates a CalendarService. windowDays bounds the full
// fetch used when a member has no usable cursor.
func NewCalendarService(logger *slog.Logger, credentialsJSON []byte, limiter *rate.Limiter, windowDays int) *CalendarService {
	return &CalendarService{
		logger:      logger,
		credentials: credentialsJSON,
		limiter:     limiter,
		window:      time.Duration(windowDays) * 24 * time.Hour,
		services:    make(map[string]*calendar.Service),
	}
}

// serviceFor returns an API client impersonating member, building it on
// first use.
func (s *CalendarService) serviceFor(ctx context.Context, member string) (*calendar.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc, ok := s.services[member]; ok {
		return svc, nil
	}

	client, err := impersonatedClient(ctx, s.credentials, member)
	if err != nil {
		return nil, err
	}
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service for %s: %w", member, err)
	}
	s.services[member] = svc
	return svc, nil
}

// Changes fetches every event changed on the member's primary calendar since
// cursor. With an empty cursor, or when the remote rejects the cursor as
// expired, it scans a symmetric window around now instead. Pagination is
// exhaustive and all-or-nothing: any mid-sequence error aborts the fetch
// with no ChangeSet, so no cursor can be persisted from a partial read.
func (s *CalendarService) Changes(ctx context.Context, member, cursor string) (*models.ChangeSet, error) {
	svc, err := s.serviceFor(ctx, member)
	if err != nil {
		return nil, err
	}

	usedFallback := false
	if cursor != "" {
		items, next, err := s.listAll(ctx, member, func() *calendar.EventsListCall {
			return svc.Events.List(member).SyncToken(cursor).MaxResults(maxResultsPerPage).Fields(eventFields)
		})
		if err == nil {
			return &models.ChangeSet{Events: s.toEvents(items), NextCursor: next}, nil
		}
		if !errors.Is(err, ErrCursorInvalid) {
			return nil, err
		}
		s.logger.Warn("Sync cursor expired, falling back to windowed fetch", "member", member)
		usedFallback = true
	}

	now := time.Now().UTC()
	timeMin := now.Add(-s.window).Format(time.RFC3339)
	timeMax := now.Add(s.window).Format(time.RFC3339)
	items, next, err := s.listAll(ctx, member, func() *calendar.EventsListCall {
		return svc.Events.List(member).
			SingleEvents(true).
			ShowDeleted(false).
			TimeMin(timeMin).
			TimeMax(timeMax).
			MaxResults(maxResultsPerPage).
			Fields(eventFields)
	})
	if err != nil {
		return nil, err
	}
	return &models.ChangeSet{Events: s.toEvents(items), NextCursor: next, UsedFallback: usedFallback}, nil
}

// listAll pages through a list call to completion. The sync token only
// exists on the final page, so a partial sequence yields nothing.
func (s *CalendarService) listAll(ctx context.Context, member string, newCall func() *calendar.EventsListCall) ([]*calendar.Event, string, error) {
	var items []*calendar.Event
	pageToken := ""
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
		call := newCall()
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			if isGone(err) {
				return nil, "", ErrCursorInvalid
			}
			return nil, "", fmt.Errorf("failed to list events for %s: %w", member, err)
		}
		items = append(items, resp.Items...)
		if resp.NextPageToken == "" {
			return items, resp.NextSyncToken, nil
		}
		pageToken = resp.NextPageToken
	}
}

// isGone detects the Calendar API's "sync token no longer valid, perform a
// full sync" response.
func isGone(err error) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == http.StatusGone
}

// Patch conditionally updates one event's description and private metadata.
// SendUpdates("none") keeps the write out of attendees' inboxes.
func (s *CalendarService) Patch(ctx context.Context, member, eventID, description string, private map[string]string) error {
	svc, err := s.serviceFor(ctx, member)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	patch := &calendar.Event{
		Description: description,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: private,
		},
	}
	if _, err := svc.Events.Patch(member, eventID, patch).SendUpdates("none").Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to patch event %s for %s: %w", eventID, member, err)
	}
	return nil
}

// occurrenceKey distinguishes two occurrences of the same recurring series.
// The series id alone is never enough; id plus start instant is.
type occurrenceKey struct {
	id    string
	start string
}

// toEvents converts API items to the internal projection, dropping duplicate
// occurrences within the batch. The de-dup set lives only for this batch.
func (s *CalendarService) toEvents(items []*calendar.Event) []*models.Event {
	seen := make(map[occurrenceKey]struct{}, len(items))
	events := make([]*models.Event, 0, len(items))
	for _, item := range items {
		key := occurrenceKey{id: item.Id, start: rawStart(item)}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		events = append(events, toEvent(item))
	}
	return events
}

func rawStart(item *calendar.Event) string {
	if item.Start == nil {
		return ""
	}
	if item.Start.DateTime != "" {
		return item.Start.DateTime
	}
	return item.Start.Date
}

func toEvent(item *calendar.Event) *models.Event {
	ev := &models.Event{
		ID:               item.Id,
		RecurringEventID: item.RecurringEventId,
		Summary:          item.Summary,
		Cancelled:        item.Status == "cancelled",
		Description:      item.Description,
	}
	if item.Organizer != nil {
		ev.Organizer = item.Organizer.Email
	}
	if item.ExtendedProperties != nil {
		ev.Private = item.ExtendedProperties.Private
	}

	// Date-only events and events missing either instant are flagged all-day;
	// eligibility skips them without pricing.
	if item.Start == nil || item.Start.DateTime == "" || item.End == nil || item.End.DateTime == "" {
		ev.AllDay = true
	} else {
		ev.StartTime, _ = time.Parse(time.RFC3339, item.Start.DateTime)
		ev.EndTime, _ = time.Parse(time.RFC3339, item.End.DateTime)
	}

	for _, a := range item.Attendees {
		if a.Email == "" {
			continue
		}
		status := models.ResponseStatus(a.ResponseStatus)
		if status == "" {
			status = models.ResponseNeedsAction
		}
		ev.Attendees = append(ev.Attendees, models.Attendee{Email: a.Email, Response: status})
	}
	return ev
}
