package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
)

type PollerState int

const (
	PollerIdle PollerState = iota
	PollerPolling
	PollerStopped
)

func (s PollerState) String() string {
	switch s {
	case PollerIdle:
		return "idle"
	case PollerPolling:
		return "polling"
	case PollerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type rowFetcher interface {
	FetchRows(ctx context.Context, jobID string, filter domain.RowFilter) (*domain.RowPage, error)
}

// JobPollerHandlers are invoked outside the poller's lock. OnDone and
// OnFailed fire at most once per Start.
type JobPollerHandlers struct {
	OnUpdate func(jobID string, page *domain.RowPage)
	OnDone   func(jobID string, page *domain.RowPage)
	OnFailed func(jobID string, page *domain.RowPage)
	OnError  func(jobID string, err error)
}

type JobPollerConfig struct {
	Interval  time.Duration
	Scheduler Scheduler
	Logger    *slog.Logger
	Observer  Observer
}

// JobPoller watches a validation job until the server reports it terminal.
// Each Start bumps a generation; anything belonging to an older generation,
// including a response that lands after Stop, is dropped.
type JobPoller struct {
	client   rowFetcher
	interval time.Duration
	sched    Scheduler
	log      *slog.Logger
	observer Observer
	handlers JobPollerHandlers

	mu     sync.Mutex
	state  PollerState
	jobID  string
	gen    uint64
	timer  Timer
	ctx    context.Context
	cancel context.CancelFunc
}

func NewJobPoller(client rowFetcher, cfg JobPollerConfig, handlers JobPollerHandlers) *JobPoller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = RealScheduler
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobPoller{
		client:   client,
		interval: interval,
		sched:    sched,
		log:      logger,
		observer: observerOrNoop(cfg.Observer),
		handlers: handlers,
	}
}

// Start begins polling jobID. Calling Start while already polling restarts
// against the new job.
func (p *JobPoller) Start(parent context.Context, jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.gen++
	p.state = PollerPolling
	p.jobID = jobID
	p.ctx, p.cancel = context.WithCancel(parent)
	p.scheduleLocked(p.gen)
}

// Stop is idempotent and safe from any state, including teardown paths.
func (p *JobPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PollerPolling {
		return
	}
	p.stopLocked()
	p.state = PollerStopped
}

func (p *JobPoller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *JobPoller) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
}

func (p *JobPoller) scheduleLocked(gen uint64) {
	p.timer = p.sched.AfterFunc(p.interval, func() { p.tick(gen) })
}

func (p *JobPoller) tick(gen uint64) {
	p.mu.Lock()
	if p.state != PollerPolling || p.gen != gen {
		p.mu.Unlock()
		return
	}
	ctx, jobID := p.ctx, p.jobID
	p.timer = nil
	if ctx.Err() != nil {
		p.stopLocked()
		p.state = PollerStopped
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	page, err := p.client.FetchRows(ctx, jobID, domain.RowFilter{Page: 1})
	p.observer.PollCompleted(err)

	p.mu.Lock()
	if p.state != PollerPolling || p.gen != gen {
		p.mu.Unlock()
		return
	}
	if err != nil {
		// A cancelled session ends polling; it is not a transient failure.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			p.stopLocked()
			p.state = PollerStopped
			p.mu.Unlock()
			return
		}
		p.scheduleLocked(gen)
		p.mu.Unlock()
		p.log.Warn("validation poll failed", "job_id", jobID, "error", err)
		if p.handlers.OnError != nil {
			p.handlers.OnError(jobID, err)
		}
		return
	}

	terminal := page.JobStatus == domain.JobStatusDone || page.JobStatus == domain.JobStatusFailed
	if terminal {
		p.stopLocked()
		p.state = PollerStopped
	} else {
		p.scheduleLocked(gen)
	}
	p.mu.Unlock()

	if p.handlers.OnUpdate != nil {
		p.handlers.OnUpdate(jobID, page)
	}
	switch page.JobStatus {
	case domain.JobStatusDone:
		p.log.Info("validation finished", "job_id", jobID, "total", page.Stats.TotalCount)
		if p.handlers.OnDone != nil {
			p.handlers.OnDone(jobID, page)
		}
	case domain.JobStatusFailed:
		p.log.Warn("validation job failed", "job_id", jobID)
		if p.handlers.OnFailed != nil {
			p.handlers.OnFailed(jobID, page)
		}
	}
}
