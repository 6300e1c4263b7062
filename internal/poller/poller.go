// Package poller drives the periodic status queries of a submitted job until
// it completes, fails, times out or is cancelled.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oukeidos/restora/internal/apperrors"
	"github.com/oukeidos/restora/internal/logger"
	"github.com/oukeidos/restora/internal/service"
)

const (
	DefaultInterval = 1 * time.Second
	DefaultMaxTicks = 300
)

// Service is the subset of the service client the poller needs.
type Service interface {
	Status(ctx context.Context, jobID string) (service.StatusReport, error)
	Result(ctx context.Context, jobID string) (json.RawMessage, error)
}

// Clock schedules ticks. Tests substitute one that fires immediately.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

type Config struct {
	// Interval between status queries.
	Interval time.Duration
	// MaxTicks bounds the number of non-terminal status queries.
	MaxTicks int
	// StatusRetries is how many times a retryable status failure is retried
	// within the same tick. Zero disables retries.
	StatusRetries int
}

func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, MaxTicks: DefaultMaxTicks}
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxTicks <= 0 {
		c.MaxTicks = DefaultMaxTicks
	}
	if c.StatusRetries < 0 {
		c.StatusRetries = 0
	}
	return c
}

// Handlers receive the outcome of a session. Exactly one of OnTerminal or
// OnTimeout is called unless the session is cancelled first. OnUpdate is
// called for each non-terminal status.
type Handlers struct {
	OnUpdate   func(id uint64, report service.StatusReport)
	OnTerminal func(id uint64, raw json.RawMessage, err error)
	OnTimeout  func(id uint64)
}

type Poller struct {
	svc    Service
	clock  Clock
	cfg    Config
	nextID atomic.Uint64
}

// New returns a poller over svc. A nil clock selects RealClock.
func New(svc Service, clock Clock, cfg Config) *Poller {
	if clock == nil {
		clock = RealClock
	}
	return &Poller{svc: svc, clock: clock, cfg: cfg.normalized()}
}

func (p *Poller) Config() Config { return p.cfg }

// Session is one running polling loop.
type Session struct {
	ID    uint64
	JobID string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops the session. It does not wait for an in-flight query; any
// response arriving afterwards is discarded without invoking handlers.
func (s *Session) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Done is closed once the polling goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start launches a session for jobID. The first query happens one interval
// after Start, and each following one an interval after the previous
// handler returned.
func (p *Poller) Start(ctx context.Context, jobID string, h Handlers) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:     p.nextID.Add(1),
		JobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx, s, h)
	return s
}

func (p *Poller) run(ctx context.Context, s *Session, h Handlers) {
	defer close(s.done)
	defer s.Cancel()
	log := logger.With("job_id", s.JobID, "session", s.ID)

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			log.Debug("Polling cancelled", "tick", tick)
			return
		case <-p.clock.After(p.cfg.Interval):
		}

		report, err := p.query(ctx, s.JobID, log)
		if ctx.Err() != nil {
			log.Debug("Discarding status after cancellation", "tick", tick)
			return
		}
		if err != nil {
			log.Warn("Status query failed", "tick", tick, "error", err)
			if h.OnTerminal != nil {
				h.OnTerminal(s.ID, nil, err)
			}
			return
		}

		switch report.Status {
		case service.StatusCompleted:
			raw, err := p.svc.Result(ctx, s.JobID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				err = apperrors.Wrap(apperrors.KindResultFetch, err)
				log.Warn("Result fetch failed", "error", err)
			} else {
				log.Info("Job completed", "tick", tick)
			}
			if h.OnTerminal != nil {
				h.OnTerminal(s.ID, raw, err)
			}
			return
		case service.StatusFailed:
			err := apperrors.New(apperrors.KindProcessingFailure, report.Error,
				fmt.Errorf("job %s reported status %q", s.JobID, report.Status))
			log.Warn("Job failed", "tick", tick, "error", err)
			if h.OnTerminal != nil {
				h.OnTerminal(s.ID, nil, err)
			}
			return
		default:
			if h.OnUpdate != nil {
				h.OnUpdate(s.ID, report)
			}
		}

		if tick >= p.cfg.MaxTicks {
			log.Warn("Polling timed out", "ticks", tick)
			if ctx.Err() == nil && h.OnTimeout != nil {
				h.OnTimeout(s.ID)
			}
			return
		}
	}
}

func (p *Poller) query(ctx context.Context, jobID string, log *slog.Logger) (service.StatusReport, error) {
	maxAttempts := p.cfg.StatusRetries + 1
	for attempt := 1; ; attempt++ {
		report, err := p.svc.Status(ctx, jobID)
		if err == nil {
			return report, nil
		}
		retry, backoff := retryDecision(ctx, err, attempt, maxAttempts)
		if !retry {
			return service.StatusReport{}, err
		}
		log.Warn("Retrying status query", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return service.StatusReport{}, ctx.Err()
		case <-p.clock.After(backoff):
		}
	}
}

// retryDecision backs off exponentially from one second, capped at twenty,
// plus up to a second of jitter. Only transient failures qualify.
func retryDecision(ctx context.Context, err error, attempt, maxAttempts int) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if attempt >= maxAttempts {
		return false, 0
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0
	}
	if !apperrors.IsRetryable(err) {
		return false, 0
	}
	base := 1 * time.Second
	maxBackoff := 20 * time.Second
	jitterMax := 1 * time.Second

	backoff := base << (attempt - 1)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(jitterMax)))
	return true, backoff + jitter
}
