package models

import "time"

// ResponseStatus is an attendee's reply to a meeting invitation, using the
// Calendar API's vocabulary.
type ResponseStatus string

const (
	ResponseAccepted    ResponseStatus = "accepted"
	ResponseDeclined    ResponseStatus = "declined"
	ResponseTentative   ResponseStatus = "tentative"
	ResponseNeedsAction ResponseStatus = "needsAction"
)

// Attendee is one invitee on an event.
type Attendee struct {
	Email    string
	Response ResponseStatus
}

// Declined reports whether the attendee has explicitly declined. Tentative
// and unanswered invitations count as attending.
func (a Attendee) Declined() bool {
	return a.Response == ResponseDeclined
}

// Event is the engine's projection of one meeting occurrence. It is owned by
// the remote calendar; we hold it in memory for a single processing pass and
// never cache it across runs.
type Event struct {
	ID               string
	RecurringEventID string
	Summary          string
	StartTime        time.Time
	EndTime          time.Time
	AllDay           bool // date-only event, or missing start/end times
	Cancelled        bool
	Organizer        string
	Attendees        []Attendee
	Description      string
	Private          map[string]string // private extended properties
}

// DurationHours returns the event length in fractional hours, clamped to
// non-negative.
func (e *Event) DurationHours() float64 {
	d := e.EndTime.Sub(e.StartTime)
	if d < 0 {
		return 0
	}
	return d.Hours()
}

// ChangeSet is the result of one complete change fetch for a member: every
// changed event plus the cursor to use on the next run. A ChangeSet is only
// produced when pagination ran to completion, so NextCursor is safe to
// persist once all events have been handled.
type ChangeSet struct {
	Events       []*Event
	NextCursor   string
	UsedFallback bool // the stored cursor was rejected and a windowed full fetch ran instead
}
