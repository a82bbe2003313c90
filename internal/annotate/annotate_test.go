package annotate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetcost/internal/cost"
	"meetcost/internal/models"
)

type fakePatcher struct {
	calls       int
	err         error
	description string
	private     map[string]string
}

func (f *fakePatcher) Patch(_ context.Context, _, _ string, description string, private map[string]string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.description = description
	f.private = private
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWriter(p Patcher) *Writer {
	return NewWriter(testLogger(), p, "[[COST]]", 500, 1000, false)
}

func TestAnnotate_DualCostScenario(t *testing.T) {
	p := &fakePatcher{}
	w := newTestWriter(p)
	ev := &models.Event{ID: "ev-1", Description: ""}
	res := cost.Result{InvitedCost: 250, EffectiveCost: 125, InvitedCount: 2, EffectiveCount: 1, DurationHours: 1}

	outcome, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, "[[COST]]: 🟢 $125\n└─ Invited cost: 🟢 $250 (2 invited → 1 attending)", p.description)
	assert.Equal(t, "125", p.private["meetingCost"])
	assert.Equal(t, "250", p.private["invitedCost"])
	assert.Equal(t, "125", p.private["effectiveCost"])
}

func TestAnnotate_SingleLineWhenCostsAgree(t *testing.T) {
	p := &fakePatcher{}
	w := newTestWriter(p)
	ev := &models.Event{ID: "ev-1"}
	res := cost.Result{InvitedCost: 250, EffectiveCost: 250, InvitedCount: 2, EffectiveCount: 2}

	_, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, "[[COST]]: 🟢 $250", p.description)
}

func TestAnnotate_Idempotent(t *testing.T) {
	p := &fakePatcher{}
	w := newTestWriter(p)
	ev := &models.Event{ID: "ev-1", Description: "Agenda:\n- roadmap"}
	res := cost.Result{InvitedCost: 375, EffectiveCost: 375, InvitedCount: 3, EffectiveCount: 3}

	first, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, Updated, first)
	afterFirst := ev.Description

	second, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, second)
	assert.Equal(t, 1, p.calls, "second pass must not issue a write")
	assert.Equal(t, afterFirst, ev.Description)
}

func TestAnnotate_PrependsAboveExistingContent(t *testing.T) {
	p := &fakePatcher{}
	w := newTestWriter(p)
	ev := &models.Event{ID: "ev-1", Description: "Agenda:\n- roadmap\n- hiring"}
	res := cost.Result{InvitedCost: 250, EffectiveCost: 250, InvitedCount: 2, EffectiveCount: 2}

	_, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, "[[COST]]: 🟢 $250\n\nAgenda:\n- roadmap\n- hiring", p.description)
}

func TestAnnotate_ReplacesExistingBlockInPlace(t *testing.T) {
	p := &fakePatcher{}
	w := newTestWriter(p)
	ev := &models.Event{
		ID:          "ev-1",
		Description: "Weekly notes\n[[COST]]: 🟢 $125\n└─ Invited cost: 🟢 $250 (2 invited → 1 attending)\nAction items",
		Private:     map[string]string{"meetingCost": "125", "invitedCost": "250", "effectiveCost": "125"},
	}
	// Duration doubled since the last annotation.
	res := cost.Result{InvitedCost: 500, EffectiveCost: 250, InvitedCount: 2, EffectiveCount: 1}

	outcome, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, "Weekly notes\n[[COST]]: 🟢 $250\n└─ Invited cost: 🟢 $500 (2 invited → 1 attending)\nAction items", p.description)
}

func TestAnnotate_ShrinksToSingleLine(t *testing.T) {
	// A stale detail line disappears when the costs now agree.
	p := &fakePatcher{}
	w := newTestWriter(p)
	ev := &models.Event{
		ID:          "ev-1",
		Description: "[[COST]]: 🟢 $125\n└─ Invited cost: 🟢 $250 (2 invited → 1 attending)\n\nAgenda",
	}
	res := cost.Result{InvitedCost: 250, EffectiveCost: 250, InvitedCount: 2, EffectiveCount: 2}

	_, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, "[[COST]]: 🟢 $250\n\nAgenda", p.description)
}

func TestAnnotate_ReplacesFirstMatchOnly(t *testing.T) {
	// Hand-edited descriptions can carry accidental copies of the tag line;
	// only the first is ours to rewrite.
	p := &fakePatcher{}
	w := newTestWriter(p)
	ev := &models.Event{
		ID:          "ev-1",
		Description: "[[COST]]: 🟢 $100\nnotes\n[[COST]]: someone pasted this",
	}
	res := cost.Result{InvitedCost: 300, EffectiveCost: 300, InvitedCount: 2, EffectiveCount: 2}

	_, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, "[[COST]]: 🟢 $300\nnotes\n[[COST]]: someone pasted this", p.description)
}

func TestAnnotate_SeverityBands(t *testing.T) {
	tests := []struct {
		cost int
		want string
	}{
		{125, "[[COST]]: 🟢 $125"},
		{500, "[[COST]]: 🟢 $500"},
		{501, "[[COST]]: 🟠 $501"},
		{1000, "[[COST]]: 🟠 $1,000"},
		{1001, "[[COST]]: 🔴 $1,001"},
		{12500, "[[COST]]: 🔴 $12,500"},
	}

	for _, tt := range tests {
		p := &fakePatcher{}
		w := newTestWriter(p)
		ev := &models.Event{ID: "ev-1"}
		res := cost.Result{InvitedCost: tt.cost, EffectiveCost: tt.cost, InvitedCount: 2, EffectiveCount: 2}

		_, err := w.Annotate(context.Background(), "a@co.com", ev, res)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.description)
	}
}

func TestAnnotate_MetadataDriftForcesRewrite(t *testing.T) {
	// Description already current but a metadata key was clobbered.
	p := &fakePatcher{}
	w := newTestWriter(p)
	ev := &models.Event{
		ID:          "ev-1",
		Description: "[[COST]]: 🟢 $250",
		Private:     map[string]string{"meetingCost": "250", "invitedCost": "999", "effectiveCost": "250"},
	}
	res := cost.Result{InvitedCost: 250, EffectiveCost: 250, InvitedCount: 2, EffectiveCount: 2}

	outcome, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, "250", p.private["invitedCost"])
}

func TestAnnotate_PreservesForeignMetadata(t *testing.T) {
	p := &fakePatcher{}
	w := newTestWriter(p)
	ev := &models.Event{ID: "ev-1", Private: map[string]string{"zoomLink": "abc"}}
	res := cost.Result{InvitedCost: 250, EffectiveCost: 250, InvitedCount: 2, EffectiveCount: 2}

	_, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, "abc", p.private["zoomLink"])
}

func TestAnnotate_PatchFailure(t *testing.T) {
	p := &fakePatcher{err: errors.New("backend unavailable")}
	w := newTestWriter(p)
	ev := &models.Event{ID: "ev-1"}
	res := cost.Result{InvitedCost: 250, EffectiveCost: 250, InvitedCount: 2, EffectiveCount: 2}

	_, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.Error(t, err)
	assert.Empty(t, ev.Description, "a failed write must not mutate the projection")
}

func TestAnnotate_DryRunSkipsPatch(t *testing.T) {
	p := &fakePatcher{}
	w := NewWriter(testLogger(), p, "[[COST]]", 500, 1000, true)
	ev := &models.Event{ID: "ev-1"}
	res := cost.Result{InvitedCost: 250, EffectiveCost: 250, InvitedCount: 2, EffectiveCount: 2}

	outcome, err := w.Annotate(context.Background(), "a@co.com", ev, res)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Zero(t, p.calls)
}
