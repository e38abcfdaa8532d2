// Package expiry removes self-destructing messages once they expire.
//
// The periodic sweep is the authoritative mechanism and survives restarts
// because it works from the stored expiry alone. Per-message timers only cut
// the latency for messages expiring soon; losing them loses nothing.
package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bazaar/internal/observability/metrics"

	"github.com/google/uuid"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultHorizon  = 10 * time.Minute

	deleteTimeout = 10 * time.Second
)

// Deleter is the persistence side of expiry. Both calls must be idempotent
// and must never match rows without an expiry.
type Deleter interface {
	DeleteIfExpired(ctx context.Context, id uuid.UUID, now time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error)
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithHorizon bounds how far ahead a timer is armed. Zero disables timers.
func WithHorizon(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.horizon = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

type Scheduler struct {
	deleter  Deleter
	interval time.Duration
	horizon  time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu      sync.Mutex
	timers  map[uuid.UUID]*pending
	stopped bool
}

// pending is one armed timer. fire only clears the map entry that is still
// the one it was armed with.
type pending struct {
	timer *time.Timer
}

func New(d Deleter, opts ...Option) *Scheduler {
	s := &Scheduler{
		deleter:  d,
		interval: DefaultInterval,
		horizon:  DefaultHorizon,
		now:      time.Now,
		log:      slog.Default(),
		timers:   map[uuid.UUID]*pending{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms a timer for a message expiring within the horizon. Messages
// expiring later are left to the sweep.
func (s *Scheduler) Schedule(id uuid.UUID, expiresAt time.Time) {
	delay := expiresAt.Sub(s.now())
	if delay > s.horizon {
		return
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[id]; ok {
		old.timer.Stop()
	}
	p := &pending{}
	p.timer = time.AfterFunc(delay, func() { s.fire(id, p) })
	s.timers[id] = p
	metrics.ExpiryTimersPending.Set(float64(len(s.timers)))
}

func (s *Scheduler) fire(id uuid.UUID, p *pending) {
	s.mu.Lock()
	if s.timers[id] == p {
		delete(s.timers, id)
	}
	stopped := s.stopped
	metrics.ExpiryTimersPending.Set(float64(len(s.timers)))
	s.mu.Unlock()
	if stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	n, err := s.deleter.DeleteIfExpired(ctx, id, s.now())
	if err != nil {
		s.log.Warn("expiry timer delete failed, sweep will retry", "message_id", id, "error", err)
		return
	}
	if n > 0 {
		metrics.ExpiredMessagesDeletedTotal.WithLabelValues("timer").Add(float64(n))
		s.log.Debug("expired message deleted", "message_id", id, "strategy", "timer")
	}
}

// Sweep deletes every message expired as of now and returns how many rows
// went away. Zero matches is not an error.
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	n, err := s.deleter.DeleteExpiredBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ExpiredMessagesDeletedTotal.WithLabelValues("sweep").Add(float64(n))
		s.log.Info("expired messages swept", "deleted", n)
	}
	return n, nil
}

// Run sweeps once immediately, then every interval until ctx ends. Pending
// timers are stopped on return.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.Stop()

	s.sweepLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepLogged(ctx)
		}
	}
}

func (s *Scheduler) sweepLogged(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("expiry sweep failed", "error", err)
	}
}

// Stop cancels pending timers; later Schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, id)
	}
	metrics.ExpiryTimersPending.Set(0)
}

// Pending reports how many timers are armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
