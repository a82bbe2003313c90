// Package syncer drives one annotation run: list members, fetch each
// member's changed events, price and annotate the eligible ones, then
// persist the member's new cursor. Failures are isolated per member and per
// event; only configuration problems abort a run.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"meetcost/internal/annotate"
	"meetcost/internal/cost"
	"meetcost/internal/models"
)

// Directory enumerates the members whose calendars get scanned. Satisfied by
// *google.DirectoryClient.
type Directory interface {
	ListActiveMembers(ctx context.Context, max int) ([]string, error)
}

// Calendar fetches changed events. Satisfied by *google.CalendarService.
type Calendar interface {
	Changes(ctx context.Context, member, cursor string) (*models.ChangeSet, error)
}

// CursorStore persists per-member sync cursors. Satisfied by *cursor.Store.
type CursorStore interface {
	Get(ctx context.Context, member string) (string, bool, error)
	Put(ctx context.Context, member, token string) error
}

// Annotator applies cost annotations. Satisfied by *annotate.Writer.
type Annotator interface {
	Annotate(ctx context.Context, member string, ev *models.Event, res cost.Result) (annotate.Outcome, error)
}

// Skip buckets owned by the orchestrator, alongside the eligibility reasons.
const (
	skipCancelled = "cancelled"
	skipUnchanged = "unchanged"
)

// Report summarizes one run. Processed counts issued annotation writes,
// Skipped everything evaluated but not written (partitioned by reason), and
// Errored every member or event abandoned due to a failure.
type Report struct {
	RunID     string         `json:"runId"`
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Errored   int            `json:"errored"`
	SkippedBy map[string]int `json:"skippedBy,omitempty"`
	Members   int            `json:"members"`
	Duration  time.Duration  `json:"-"`
}

func (r *Report) merge(st memberStats) {
	r.Processed += st.processed
	r.Errored += st.errored
	for reason, n := range st.skipped {
		r.Skipped += n
		r.SkippedBy[reason] += n
	}
}

// Options configures a Syncer. A struct because the dependency list is too
// long for positional parameters.
type Options struct {
	Logger      *slog.Logger
	Directory   Directory
	Calendar    Calendar
	Cursors     CursorStore
	Writer      Annotator
	Rules       cost.Rules
	HourlyRate  float64
	MaxMembers  int
	Concurrency int64 // member loops running in parallel
	DryRun      bool  // evaluate and log, but never patch or move cursors
}

// Syncer owns the run loop. All other components are stateless; the cursor
// store is the only durable collaborator.
type Syncer struct {
	opts Options
}

// New creates a Syncer.
func New(opts Options) *Syncer {
	return &Syncer{opts: opts}
}

// Run executes one complete cycle and returns its aggregate result. Member
// processing is independent, so members run concurrently up to the
// configured limit; counters are merged under a mutex. Only a directory
// listing failure is a run-level error — everything downstream is counted
// and logged, never propagated.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{RunID: uuid.NewString(), SkippedBy: make(map[string]int)}
	logger := s.opts.Logger.With("run", report.RunID)

	members, err := s.opts.Directory.ListActiveMembers(ctx, s.opts.MaxMembers)
	if err != nil {
		return nil, err
	}
	report.Members = len(members)
	logger.Info("Starting run", "members", len(members), "dryRun", s.opts.DryRun)

	sem := semaphore.NewWeighted(s.opts.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, member := range members {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Run abandoned by the scheduler. Members not yet started keep
			// their cursors and are revisited next run.
			logger.Warn("Run interrupted, abandoning remaining members", "error", err)
			break
		}
		wg.Add(1)
		go func(member string) {
			defer wg.Done()
			defer sem.Release(1)
			st := s.processMember(ctx, logger, member)
			mu.Lock()
			report.merge(st)
			mu.Unlock()
		}(member)
	}
	wg.Wait()

	report.Duration = time.Since(started)
	logger.Info("Run finished",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"errored", report.Errored,
		"duration", report.Duration)
	return report, nil
}

type memberStats struct {
	processed int
	errored   int
	skipped   map[string]int
}

// processMember runs the full cycle for one member. The new cursor is
// persisted only after every fetched event has been handled; a fetch-level
// failure leaves the old cursor in place so nothing is silently lost.
func (s *Syncer) processMember(ctx context.Context, logger *slog.Logger, member string) memberStats {
	st := memberStats{skipped: make(map[string]int)}

	cursor, _, err := s.opts.Cursors.Get(ctx, member)
	if err != nil {
		logger.Error("Failed to load cursor", "member", member, "stage", "cursor_load", "error", err)
		st.errored++
		return st
	}

	cs, err := s.opts.Calendar.Changes(ctx, member, cursor)
	if err != nil {
		logger.Error("Failed to fetch changes", "member", member, "stage", "fetch", "error", err)
		st.errored++
		return st
	}
	if cs.UsedFallback {
		logger.Info("Rebuilt cursor via windowed fetch", "member", member, "events", len(cs.Events))
	}

	for _, ev := range cs.Events {
		if ev.Cancelled {
			st.skipped[skipCancelled]++
			continue
		}
		if d := cost.Eligible(ev, s.opts.Rules); !d.OK {
			st.skipped[string(d.Reason)]++
			continue
		}
		res := cost.Compute(ev, s.opts.Rules.Domain, s.opts.HourlyRate)
		outcome, err := s.opts.Writer.Annotate(ctx, member, ev, res)
		if err != nil {
			// The event's data is unchanged remotely, so the next run
			// retries this annotation from the same inputs.
			logger.Error("Failed to annotate event",
				"member", member, "event", ev.ID, "stage", "annotate", "error", err)
			st.errored++
			continue
		}
		if outcome == annotate.Updated {
			st.processed++
		} else {
			st.skipped[skipUnchanged]++
		}
	}

	if s.opts.DryRun {
		return st
	}
	if cs.NextCursor == "" {
		logger.Warn("Fetch returned no cursor, member will re-scan next run", "member", member)
		return st
	}
	if err := s.opts.Cursors.Put(ctx, member, cs.NextCursor); err != nil {
		// The member's cycle is incomplete: already-fetched events will be
		// re-evaluated next run, which the idempotent writer absorbs.
		logger.Error("Failed to persist cursor", "member", member, "stage", "cursor_save", "error", err)
		st.errored++
	}
	return st
}
