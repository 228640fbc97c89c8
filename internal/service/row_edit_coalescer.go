package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
)

type rowPatcher interface {
	PatchRow(ctx context.Context, jobID string, rowID int64, patch domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error)
}

// RowSink receives the results of inline edits. It is called with the
// coalescer's lock held, so implementations must not call back into the
// coalescer.
type RowSink interface {
	ApplyLocalEdit(rowID int64, patch domain.FieldPatch)
	// ApplyPatchedRow replaces the row with the server's copy. A non-nil
	// overlay is a newer local value that must stay visible on top of it.
	ApplyPatchedRow(row domain.PreviewRow, stats domain.JobStats, overlay *domain.FieldPatch)
	// MarkRowInvalid keeps the typed values. stats is nil when the server
	// sent none.
	MarkRowInvalid(rowID int64, errs domain.FieldErrors, stats *domain.JobStats)
}

type RowEditCoalescerConfig struct {
	Debounce  time.Duration
	Scheduler Scheduler
	Logger    *slog.Logger
	Observer  Observer
}

type rowEdit struct {
	seq      uint64
	timer    Timer
	pending  *domain.FieldPatch
	inFlight bool
}

func (e *rowEdit) idle() bool {
	return e.timer == nil && e.pending == nil && !e.inFlight
}

// RowEditCoalescer debounces inline edits per row and keeps at most one
// patch per row on the wire.
type RowEditCoalescer struct {
	client   rowPatcher
	jobID    string
	sink     RowSink
	debounce time.Duration
	sched    Scheduler
	log      *slog.Logger
	observer Observer

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	rows   map[int64]*rowEdit
}

func NewRowEditCoalescer(parent context.Context, client rowPatcher, jobID string, sink RowSink, cfg RowEditCoalescerConfig) *RowEditCoalescer {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = RealScheduler
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &RowEditCoalescer{
		client:   client,
		jobID:    jobID,
		sink:     sink,
		debounce: debounce,
		sched:    sched,
		log:      logger,
		observer: observerOrNoop(cfg.Observer),
		ctx:      ctx,
		cancel:   cancel,
		rows:     make(map[int64]*rowEdit),
	}
}

// OnFieldChange shows value locally at once and (re)arms the row's debounce
// timer. A later change on the same row replaces the pending one, even when
// it targets a different field.
func (c *RowEditCoalescer) OnFieldChange(rowID int64, field, value string) error {
	if !domain.IsEditableField(field) {
		return precondition("edit field", ErrUnknownField)
	}
	patch := domain.FieldPatch{Field: field, Value: value}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return precondition("edit field", ErrSessionClosed)
	}

	e, ok := c.rows[rowID]
	if !ok {
		e = &rowEdit{}
		c.rows[rowID] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.seq++
	seq := e.seq
	e.pending = &patch
	e.timer = c.sched.AfterFunc(c.debounce, func() { c.fire(rowID, seq) })

	c.sink.ApplyLocalEdit(rowID, patch)
	return nil
}

// Busy reports whether rowID has an edit waiting or on the wire.
func (c *RowEditCoalescer) Busy(rowID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.rows[rowID]
	return ok && !e.idle()
}

// Forget drops the pending edit of a row that no longer exists. A patch
// already on the wire for it is discarded when it returns.
func (c *RowEditCoalescer) Forget(rowID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.rows[rowID]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(c.rows, rowID)
}

// Close stops every timer and drops responses that arrive afterwards.
func (c *RowEditCoalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, e := range c.rows {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.rows = map[int64]*rowEdit{}
	c.cancel()
}

func (c *RowEditCoalescer) fire(rowID int64, seq uint64) {
	c.mu.Lock()
	e, ok := c.rows[rowID]
	if c.closed || !ok || e.seq != seq {
		c.mu.Unlock()
		return
	}
	e.timer = nil
	if e.inFlight || e.pending == nil {
		// The in-flight patch sends the pending edit once it resolves.
		c.mu.Unlock()
		return
	}
	patch := *e.pending
	e.pending = nil
	e.inFlight = true
	ctx := c.ctx
	c.mu.Unlock()

	c.send(ctx, rowID, e, patch)
}

func (c *RowEditCoalescer) send(ctx context.Context, rowID int64, e *rowEdit, patch domain.FieldPatch) {
	for {
		row, stats, err := c.client.PatchRow(ctx, c.jobID, rowID, patch)
		c.observer.PatchCompleted(err)

		next, ok := c.resolve(rowID, e, patch, row, stats, err)
		if !ok {
			return
		}
		patch = next
	}
}

// resolve applies one patch response and reports the queued edit to send
// next, if its debounce has already elapsed.
func (c *RowEditCoalescer) resolve(rowID int64, e *rowEdit, sent domain.FieldPatch, row *domain.PreviewRow, stats domain.JobStats, err error) (domain.FieldPatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A forgotten row may have been edited again since; that entry is not ours.
	if c.closed || c.rows[rowID] != e {
		return domain.FieldPatch{}, false
	}
	e.inFlight = false

	switch {
	case err == nil && row != nil:
		var overlay *domain.FieldPatch
		if e.pending != nil {
			p := *e.pending
			overlay = &p
		}
		c.sink.ApplyPatchedRow(row.Clone(), stats, overlay)
	default:
		errs, latest := patchErrors(err)
		c.sink.MarkRowInvalid(rowID, errs, latest)
		c.log.Info("row edit rejected", "job_id", c.jobID, "row_id", rowID, "field", sent.Field, "error", err)
	}

	if e.pending != nil && e.timer == nil {
		next := *e.pending
		e.pending = nil
		e.inFlight = true
		return next, true
	}
	if e.idle() {
		delete(c.rows, rowID)
	}
	return domain.FieldPatch{}, false
}

func patchErrors(err error) (domain.FieldErrors, *domain.JobStats) {
	var rowErr *domain.RowValidationError
	if errors.As(err, &rowErr) {
		if len(rowErr.Fields) > 0 {
			return rowErr.Fields, rowErr.Stats
		}
		return domain.FieldErrors{domain.ErrorKeyGeneral: rowErr.Message}, rowErr.Stats
	}
	msg := domain.UserMessage(err)
	if err == nil || msg == "" {
		msg = domain.FallbackRowMessage
	}
	return domain.FieldErrors{domain.ErrorKeyGeneral: msg}, nil
}
