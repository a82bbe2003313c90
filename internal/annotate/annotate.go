// Package annotate writes cost annotations into event descriptions. The
// write path is idempotent: the new description and metadata are computed
// first and compared byte-for-byte against the current values, and the patch
// is only issued when something actually changes.
package annotate

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"meetcost/internal/cost"
	"meetcost/internal/models"
)

// Private extended-property keys written alongside the description.
// "meetingCost" duplicates the effective figure for older readers of the
// annotation.
const (
	keyMeetingCost   = "meetingCost"
	keyInvitedCost   = "invitedCost"
	keyEffectiveCost = "effectiveCost"
)

// detailPrefix starts the continuation line under the tag line. Used to find
// the extent of an existing annotation block.
const detailPrefix = "└─"

// Outcome is the result of one annotation attempt.
type Outcome int

const (
	// Unchanged means the event already carries exactly this annotation and
	// no write was issued.
	Unchanged Outcome = iota
	// Updated means a patch was sent (or would have been, under dry run).
	Updated
)

func (o Outcome) String() string {
	if o == Updated {
		return "updated"
	}
	return "unchanged"
}

// Patcher issues the conditional event update. Satisfied by
// *google.CalendarService. Implementations must suppress attendee
// notifications.
type Patcher interface {
	Patch(ctx context.Context, member, eventID, description string, private map[string]string) error
}

// Writer renders and applies cost annotations.
type Writer struct {
	logger  *slog.Logger
	patcher Patcher
	tag     string
	lowMax  int // effective cost <= lowMax renders green
	highMax int // effective cost <= highMax renders orange, above renders red
	dryRun  bool
	printer *message.Printer
}

// NewWriter creates a Writer. lowMax and highMax are the two ascending
// severity thresholds.
func NewWriter(logger *slog.Logger, patcher Patcher, tag string, lowMax, highMax int, dryRun bool) *Writer {
	return &Writer{
		logger:  logger,
		patcher: patcher,
		tag:     tag,
		lowMax:  lowMax,
		highMax: highMax,
		dryRun:  dryRun,
		printer: message.NewPrinter(language.English),
	}
}

// Annotate rewrites the event's cost line and private metadata. Re-running
// against an event whose annotation already reflects res reports Unchanged
// and touches nothing.
func (w *Writer) Annotate(ctx context.Context, member string, ev *models.Event, res cost.Result) (Outcome, error) {
	newDesc := spliceBlock(ev.Description, w.tag, w.renderBlock(res))

	private := make(map[string]string, len(ev.Private)+3)
	for k, v := range ev.Private {
		private[k] = v
	}
	private[keyMeetingCost] = strconv.Itoa(res.EffectiveCost)
	private[keyInvitedCost] = strconv.Itoa(res.InvitedCost)
	private[keyEffectiveCost] = strconv.Itoa(res.EffectiveCost)

	if newDesc == ev.Description && metadataCurrent(ev.Private, res) {
		return Unchanged, nil
	}

	if w.dryRun {
		w.logger.Info("[DRY RUN] Would annotate event",
			"member", member, "event", ev.ID, "effectiveCost", res.EffectiveCost, "invitedCost", res.InvitedCost)
		return Updated, nil
	}

	if err := w.patcher.Patch(ctx, member, ev.ID, newDesc, private); err != nil {
		return Unchanged, err
	}

	// Keep the projection in step so a second pass within the same batch
	// sees the written state.
	ev.Description = newDesc
	ev.Private = private
	return Updated, nil
}

func metadataCurrent(private map[string]string, res cost.Result) bool {
	return private[keyMeetingCost] == strconv.Itoa(res.EffectiveCost) &&
		private[keyInvitedCost] == strconv.Itoa(res.InvitedCost) &&
		private[keyEffectiveCost] == strconv.Itoa(res.EffectiveCost)
}

// renderBlock produces the annotation text: a single tag line when the two
// figures agree, otherwise the tag line plus an invited-cost detail line.
func (w *Writer) renderBlock(res cost.Result) string {
	effective := w.renderFigure(res.EffectiveCost)
	if res.InvitedCost == res.EffectiveCost {
		return w.tag + ": " + effective
	}
	invited := w.renderFigure(res.InvitedCost)
	return w.tag + ": " + effective + "\n" +
		w.printer.Sprintf("%s Invited cost: %s (%d invited → %d attending)",
			detailPrefix, invited, res.InvitedCount, res.EffectiveCount)
}

// renderFigure formats one cost with its severity indicator and thousands
// separators, e.g. "🟠 $1,250".
func (w *Writer) renderFigure(c int) string {
	return w.severity(c) + " " + w.printer.Sprintf("$%d", c)
}

func (w *Writer) severity(c int) string {
	switch {
	case c > w.highMax:
		return "🔴"
	case c > w.lowMax:
		return "🟠"
	default:
		return "🟢"
	}
}

// spliceBlock places block into desc. An existing annotation block is the
// first line starting with tag+":" together with any immediately following
// detail lines; it is replaced in place, preserving every other line. Later
// accidental matches in hand-edited descriptions are deliberately left
// alone. With no existing block the annotation goes at the top, above the
// original content.
func spliceBlock(desc, tag, block string) string {
	lines := strings.Split(desc, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, tag+":") {
			continue
		}
		end := i + 1
		for end < len(lines) && strings.HasPrefix(lines[end], detailPrefix) {
			end++
		}
		out := make([]string, 0, len(lines))
		out = append(out, lines[:i]...)
		out = append(out, strings.Split(block, "\n")...)
		out = append(out, lines[end:]...)
		return strings.Join(out, "\n")
	}

	if strings.TrimSpace(desc) == "" {
		return block
	}
	return block + "\n\n" + desc
}
