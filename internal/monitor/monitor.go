package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dispatchmon/internal/dispatch"
	"dispatchmon/internal/notify"
	"dispatchmon/internal/source"
	"dispatchmon/internal/state"
)

// Source is the upstream the monitor polls.
type Source interface {
	Fetch(ctx context.Context) ([]dispatch.Record, error)
	// RowsUpdatedAt returns the dataset's last-modified marker, 0 when
	// unavailable.
	RowsUpdatedAt(ctx context.Context) (int64, error)
}

// Matcher decides which fetched records are notification-worthy.
type Matcher interface {
	Matches(r dispatch.Record) bool
}

type Options struct {
	Interval      time.Duration
	Schedule      string // cron expression; overrides Interval when set
	TitlePrefix   string
	MaxSeen       int
	SendDelay     time.Duration
	MetadataCheck bool
	// SeedFirstRun records the backlog silently when the seen-set starts
	// empty instead of notifying for every historical record.
	SeedFirstRun bool
	Logger       *slog.Logger
}

// Monitor runs the poll cycle: fetch, filter, diff against the seen-set,
// notify for each new record, persist. Single-threaded: one cycle runs to
// completion before the next begins, and the Monitor exclusively owns the
// in-memory state between Load and process exit.
type Monitor struct {
	source   Source
	filter   Matcher
	store    state.Store
	notifier notify.Notifier
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(src Source, filter Matcher, store state.Store, notifier notify.Notifier, opts Options) (*Monitor, error) {
	if src == nil || filter == nil || store == nil || notifier == nil {
		return nil, fmt.Errorf("monitor requires a source, filter, store and notifier")
	}
	if opts.Schedule == "" && opts.Interval <= 0 {
		return nil, fmt.Errorf("monitor requires a positive interval or a schedule")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		source:   src,
		filter:   filter,
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer("dispatchmon/monitor"),
	}, nil
}

// Run polls until ctx is cancelled. Only corrupt persisted state aborts the
// loop; fetch and delivery failures are logged and the next cycle proceeds.
func (m *Monitor) Run(ctx context.Context) error {
	st, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("monitor started", "seen", st.Len(), "interval", m.opts.Interval, "schedule", m.opts.Schedule)

	if m.opts.Schedule != "" {
		return m.runSchedule(ctx, st)
	}

	timer := time.NewTimer(0) // first cycle runs immediately
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := m.cycle(ctx, st); err != nil {
				m.logCycleError(err)
			}
			timer.Reset(m.opts.Interval)
		}
	}
}

// RunOnce executes exactly one cycle with no sleep, for external
// schedulers that re-invoke the process periodically.
func (m *Monitor) RunOnce(ctx context.Context) error {
	st, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	return m.cycle(ctx, st)
}

func (m *Monitor) runSchedule(ctx context.Context, st *state.State) error {
	events := make(chan struct{}, 1)
	c := cron.New()
	if _, err := c.AddFunc(m.opts.Schedule, func() {
		select {
		case events <- struct{}{}:
		default:
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", m.opts.Schedule, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-events:
			if err := m.cycle(ctx, st); err != nil {
				m.logCycleError(err)
			}
		}
	}
}

// cycle is one fetch → filter → diff → notify → persist pass. It mutates st
// in place and returns only recoverable errors; persistence failures are
// logged, not returned, so a flaky disk cannot take the loop down.
func (m *Monitor) cycle(ctx context.Context, st *state.State) error {
	ctx, span := m.tracer.Start(ctx, "poll_cycle")
	defer span.End()

	metaOK := false
	var current int64
	if m.opts.MetadataCheck {
		cur, err := m.source.RowsUpdatedAt(ctx)
		if err != nil {
			m.logger.Warn("metadata check failed, fetching anyway", "stage", "fetch", "error", err)
		} else {
			metaOK = true
			current = cur
			if cur != 0 && cur == st.RowsUpdatedAt && st.Len() > 0 {
				m.logger.Debug("no upstream update, skipping cycle")
				span.SetAttributes(attribute.Bool("cycle.skipped", true))
				return nil
			}
		}
	}

	records, err := m.source.Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	seeding := m.opts.SeedFirstRun && st.Len() == 0
	matched := 0
	fresh := make([]dispatch.Record, 0)
	for _, r := range records {
		if !m.filter.Matches(r) {
			continue
		}
		matched++
		if r.ID == "" || st.Has(r.ID) {
			continue
		}
		fresh = append(fresh, r)
	}

	sent := 0
	switch {
	case seeding && len(fresh) > 0:
		// Seed the seen-set silently; notifying for the whole backlog on
		// the very first run would be a notification storm.
		for _, r := range fresh {
			st.Mark(r.ID)
		}
		m.logger.Info("first run: recorded existing calls without notifying", "count", len(fresh))
	default:
		for i, r := range fresh {
			n := notify.Notification{
				Title: dispatch.Title(m.opts.TitlePrefix, r),
				Body:  dispatch.FormatMessage(r),
			}
			if err := m.notifier.Send(ctx, n); err != nil {
				m.logger.Error("notification failed", "stage", "notify", "record_id", r.ID, "error", err)
			} else {
				sent++
				m.logger.Info("notification sent", "record_id", r.ID, "call_type", r.CallType)
			}
			// Marked whether or not the send succeeded: a duplicate push on
			// every retry would be worse than one missed push.
			st.Mark(r.ID)

			if m.opts.SendDelay > 0 && i < len(fresh)-1 {
				if sleepCtx(ctx, m.opts.SendDelay) != nil {
					break
				}
			}
		}
	}

	if metaOK {
		st.RowsUpdatedAt = current
	}
	st.Truncate(m.opts.MaxSeen)

	// The save still runs during shutdown so already-attempted records are
	// not re-notified by the next invocation.
	if err := m.store.Save(context.WithoutCancel(ctx), st); err != nil {
		m.logger.Error("persist failed", "stage", "persist", "error", err)
	}

	span.SetAttributes(
		attribute.Int("cycle.fetched", len(records)),
		attribute.Int("cycle.matched", matched),
		attribute.Int("cycle.new", len(fresh)),
		attribute.Int("cycle.notified", sent),
	)
	return nil
}

func (m *Monitor) logCycleError(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	var fetchErr *source.FetchError
	if errors.As(err, &fetchErr) {
		m.logger.Warn("fetch failed, skipping cycle", "stage", "fetch", "error", err)
		return
	}
	m.logger.Error("cycle failed", "error", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
