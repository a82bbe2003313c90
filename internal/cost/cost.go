// Package cost decides whether a meeting gets a price tag and what the tag
// says. Both halves are pure functions over the event projection; all state
// stays with the caller.
package cost

import (
	"math"

	"meetcost/internal/models"
)

// Result carries both cost figures for one eligible event. Invited counts
// every internal attendee regardless of response; effective drops those who
// declined. Effective is always <= invited.
type Result struct {
	InvitedCost    int
	EffectiveCost  int
	InvitedCount   int
	EffectiveCount int
	DurationHours  float64
}

// Compute prices an event at the given hourly rate. External attendees never
// contribute to either figure. Rounding is to the nearest whole currency
// unit, ties away from zero.
//
// Compute does not re-check eligibility: a solo effective set (everyone but
// one declined) is still priced and reported.
func Compute(ev *models.Event, domain string, rate float64) Result {
	hours := ev.DurationHours()

	invited := 0
	effective := 0
	for _, a := range ev.Attendees {
		if !Internal(a.Email, domain) {
			continue
		}
		invited++
		if !a.Declined() {
			effective++
		}
	}

	return Result{
		InvitedCost:    int(math.Round(hours * float64(invited) * rate)),
		EffectiveCost:  int(math.Round(hours * float64(effective) * rate)),
		InvitedCount:   invited,
		EffectiveCount: effective,
		DurationHours:  hours,
	}
}
