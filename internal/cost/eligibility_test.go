package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"meetcost/internal/models"
)

var testRules = Rules{Domain: "co.com", InternalOnly: true}

func timedEvent(hours float64, attendees ...models.Attendee) *models.Event {
	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return &models.Event{
		ID:        "ev-1",
		StartTime: start,
		EndTime:   start.Add(time.Duration(hours * float64(time.Hour))),
		Attendees: attendees,
	}
}

func attendee(email string, status models.ResponseStatus) models.Attendee {
	return models.Attendee{Email: email, Response: status}
}

func TestEligible_SkipOrder(t *testing.T) {
	tests := []struct {
		name   string
		event  *models.Event
		rules  Rules
		reason SkipReason
	}{
		{
			name:   "all-day event",
			event:  &models.Event{AllDay: true},
			rules:  testRules,
			reason: SkipAllDay,
		},
		{
			// All-day wins over every attendee-based rule.
			name:   "all-day with zero attendees",
			event:  &models.Event{AllDay: true, Attendees: nil},
			rules:  testRules,
			reason: SkipAllDay,
		},
		{
			name:   "missing end time",
			event:  &models.Event{StartTime: time.Now()},
			rules:  testRules,
			reason: SkipAllDay,
		},
		{
			name:   "zero duration",
			event:  timedEvent(0, attendee("a@co.com", models.ResponseAccepted), attendee("b@co.com", models.ResponseAccepted)),
			rules:  testRules,
			reason: SkipNoDuration,
		},
		{
			name:   "solo meeting",
			event:  timedEvent(1, attendee("a@co.com", models.ResponseAccepted)),
			rules:  testRules,
			reason: SkipSolo,
		},
		{
			name:   "no internal attendees",
			event:  timedEvent(1, attendee("x@other.com", models.ResponseAccepted), attendee("y@other.com", models.ResponseAccepted)),
			rules:  testRules,
			reason: SkipNoInternal,
		},
		{
			name:   "mixed under internal-only",
			event:  timedEvent(1, attendee("a@co.com", models.ResponseAccepted), attendee("x@other.com", models.ResponseAccepted)),
			rules:  testRules,
			reason: SkipMixed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Eligible(tt.event, tt.rules)
			assert.False(t, d.OK)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestEligible_OK(t *testing.T) {
	ev := timedEvent(1, attendee("a@co.com", models.ResponseAccepted), attendee("b@co.com", models.ResponseDeclined))
	d := Eligible(ev, testRules)
	assert.True(t, d.OK)
	assert.Empty(t, d.Reason)
}

func TestEligible_MixedAllowedWhenInternalOnlyOff(t *testing.T) {
	rules := Rules{Domain: "co.com", InternalOnly: false}
	ev := timedEvent(1, attendee("a@co.com", models.ResponseAccepted), attendee("x@other.com", models.ResponseAccepted))
	assert.True(t, Eligible(ev, rules).OK)
}

func TestEligible_ExcludeDeclinedShrinksSoloCheck(t *testing.T) {
	rules := Rules{Domain: "co.com", InternalOnly: true, ExcludeDeclined: true}
	ev := timedEvent(1, attendee("a@co.com", models.ResponseAccepted), attendee("b@co.com", models.ResponseDeclined))
	d := Eligible(ev, rules)
	assert.False(t, d.OK)
	assert.Equal(t, SkipSolo, d.Reason)
}

func TestEligible_EffectiveSoloStillEligible(t *testing.T) {
	// Two invited, one declined: the invited set decides, so this is not a
	// skip even though only one person attends.
	ev := timedEvent(1, attendee("a@co.com", models.ResponseAccepted), attendee("b@co.com", models.ResponseDeclined))
	assert.True(t, Eligible(ev, testRules).OK)
}

func TestInternal_CaseInsensitive(t *testing.T) {
	assert.True(t, Internal("A@CO.COM", "co.com"))
	assert.True(t, Internal("a@co.com", "CO.COM"))
	assert.False(t, Internal("a@notco.com", "co.com"))
	assert.False(t, Internal("a@co.com.evil.com", "co.com"))
}
