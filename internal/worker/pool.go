package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Handler processes one sync job. It must be safe to invoke more than once
// for the same logical change; the engine's hash and self-reflection checks
// provide that.
type Handler func(ctx context.Context, calendarID string) error

// Options tunes the pool. Zero values fall back to defaults.
type Options struct {
	// Workers is the number of jobs in flight at once.
	Workers int
	// RatePerSecond caps job starts to respect provider rate limits.
	RatePerSecond float64
	// MinInterval throttles re-triggers of the same calendar: a job arriving
	// sooner than this after the previous one is delayed, not run immediately.
	MinInterval time.Duration
	// MaxAttempts bounds retries of a failing job.
	MaxAttempts int
	// QueueSize bounds the backlog; further enqueues are dropped with a log.
	QueueSize int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 5
	}
	if o.MinInterval <= 0 {
		o.MinInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	return o
}

type job struct {
	calendarID string
	attempt    int
}

// Pool is the sync job queue: a small bounded worker pool with a rate
// limiter on job starts and a per-calendar throttle that coalesces rapid
// re-triggers (manual trigger + webhook + schedule racing each other).
type Pool struct {
	logger  *slog.Logger
	handler Handler
	opts    Options
	jobs    chan job
	limiter *rate.Limiter

	mu       sync.Mutex
	lastRun  map[string]time.Time
	deferred map[string]bool

	wg sync.WaitGroup
}

// NewPool builds a pool; call Start to begin processing.
func NewPool(logger *slog.Logger, handler Handler, opts Options) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		logger:   logger,
		handler:  handler,
		opts:     opts,
		jobs:     make(chan job, opts.QueueSize),
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		lastRun:  make(map[string]time.Time),
		deferred: make(map[string]bool),
	}
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Enqueue schedules a sync job for the calendar. Re-triggers within
// MinInterval of the previous trigger are delayed and coalesced into a single
// deferred job.
func (p *Pool) Enqueue(calendarID string) {
	p.mu.Lock()
	if p.deferred[calendarID] {
		p.mu.Unlock()
		return
	}
	delay := p.opts.MinInterval - time.Since(p.lastRun[calendarID])
	if delay > 0 {
		p.deferred[calendarID] = true
		p.mu.Unlock()
		time.AfterFunc(delay, func() {
			p.mu.Lock()
			delete(p.deferred, calendarID)
			p.lastRun[calendarID] = time.Now()
			p.mu.Unlock()
			p.submit(job{calendarID: calendarID, attempt: 1})
		})
		return
	}
	p.lastRun[calendarID] = time.Now()
	p.mu.Unlock()
	p.submit(job{calendarID: calendarID, attempt: 1})
}

func (p *Pool) submit(j job) {
	select {
	case p.jobs <- j:
	default:
		p.logger.Warn("Job queue full, dropping sync job", "calendar", j.calendarID)
	}
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
			p.run(ctx, j)
		}
	}
}

func (p *Pool) run(ctx context.Context, j job) {
	err := p.handler(ctx, j.calendarID)
	if err == nil {
		return
	}
	if j.attempt >= p.opts.MaxAttempts {
		p.logger.Error("Sync job failed permanently",
			"calendar", j.calendarID, "attempts", j.attempt, "error", err)
		return
	}
	backoff := time.Duration(1<<uint(j.attempt-1)) * time.Second
	p.logger.Warn("Sync job failed, retrying",
		"calendar", j.calendarID, "attempt", j.attempt, "backoff", backoff, "error", err)
	next := job{calendarID: j.calendarID, attempt: j.attempt + 1}
	time.AfterFunc(backoff, func() {
		p.submit(next)
	})
}
