package cost

import (
	"strings"

	"meetcost/internal/models"
)

// SkipReason explains why an event gets no cost annotation. The values
// double as bucket names in the run report.
type SkipReason string

const (
	SkipAllDay     SkipReason = "all_day"
	SkipNoDuration SkipReason = "no_duration"
	SkipSolo       SkipReason = "solo"
	SkipNoInternal SkipReason = "no_internal"
	SkipMixed      SkipReason = "mixed"
)

// Rules is the slice of configuration the eligibility and cost functions
// need, passed explicitly so they stay pure.
type Rules struct {
	Domain          string
	InternalOnly    bool
	ExcludeDeclined bool
}

// Decision is the outcome of the eligibility check.
type Decision struct {
	OK     bool
	Reason SkipReason // set only when !OK
}

func ok() Decision               { return Decision{OK: true} }
func skip(r SkipReason) Decision { return Decision{Reason: r} }

// Internal reports whether email belongs to the organization domain.
// Matching is a case-insensitive suffix check on "@"+domain.
func Internal(email, domain string) bool {
	return strings.HasSuffix(strings.ToLower(email), "@"+strings.ToLower(domain))
}

// Eligible classifies an event as annotatable or skipped. Rules are checked
// in a fixed order and the first match wins, so exactly one reason is ever
// reported:
//
//  1. all-day or missing start/end times
//  2. zero or negative duration
//  3. fewer than two attendees (declined excluded when configured)
//  4. no internal attendees
//  5. mixed internal/external, when internal-only mode is on
//
// Eligibility is decided on the invited set; an event where everyone but one
// person later declines is still eligible.
func Eligible(ev *models.Event, r Rules) Decision {
	if ev.AllDay || ev.StartTime.IsZero() || ev.EndTime.IsZero() {
		return skip(SkipAllDay)
	}
	if ev.DurationHours() <= 0 {
		return skip(SkipNoDuration)
	}

	countable := 0
	internal := 0
	for _, a := range ev.Attendees {
		if r.ExcludeDeclined && a.Declined() {
			continue
		}
		countable++
		if Internal(a.Email, r.Domain) {
			internal++
		}
	}
	if countable < 2 {
		return skip(SkipSolo)
	}
	if internal == 0 {
		return skip(SkipNoInternal)
	}
	if r.InternalOnly && internal != countable {
		return skip(SkipMixed)
	}
	return ok()
}
