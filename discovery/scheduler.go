// Package discovery finds the broadcasts a chat group is clipping and records
// them as stream records. Lookups run later on a bounded worker pool, and
// repeated requests for the same key are coalesced for a TTL.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/onnwee/tsnip/telemetry"
)

// Task is a unit of delayed work.
type Task func(ctx context.Context) error

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("scheduler closed")

// Scheduler runs keyed tasks after a delay on an ants pool. A key scheduled
// again before its TTL expires is dropped.
type Scheduler struct {
	pool  *ants.Pool
	delay time.Duration
	ttl   time.Duration
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	seen   map[string]time.Time // key -> dedup expiry
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler builds a scheduler with the given pool size, default delay and
// dedup TTL.
func NewScheduler(workers int, delay, ttl time.Duration) (*Scheduler, error) {
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p any) {
			slog.Error("discovery task panicked", slog.Any("panic", p), slog.String("component", "discovery"))
		}),
		ants.WithLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn)),
	)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pool:   pool,
		delay:  delay,
		ttl:    ttl,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		seen:   map[string]time.Time{},
		timers: map[*time.Timer]struct{}{},
	}, nil
}

// Schedule runs task after the default delay unless key was scheduled within
// the TTL. It reports whether the task was accepted.
func (s *Scheduler) Schedule(key string, task Task) (bool, error) {
	return s.ScheduleAt(key, s.now().Add(s.delay), task)
}

// ScheduleAt runs task at runAt (immediately when runAt has passed).
func (s *Scheduler) ScheduleAt(key string, runAt time.Time, task Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	now := s.now()
	s.evictLocked(now)
	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		telemetry.IncDiscovery("deduped")
		return false, nil
	}
	if s.ttl > 0 {
		s.seen[key] = now.Add(s.ttl)
	}

	s.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(runAt.Sub(now), func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.submit(key, task)
	})
	s.timers[t] = struct{}{}
	telemetry.IncDiscovery("scheduled")
	return true, nil
}

func (s *Scheduler) submit(key string, task Task) {
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		if s.ctx.Err() != nil {
			return
		}
		var err error
		telemetry.TimeFunc(telemetry.DiscoveryDuration, func() { err = task(s.ctx) })
		if err != nil {
			telemetry.IncDiscovery("failed")
			slog.Warn("discovery task failed", slog.String("key", key), slog.Any("err", err), slog.String("component", "discovery"))
		}
	})
	if err != nil {
		s.wg.Done()
		slog.Warn("discovery submit failed", slog.String("key", key), slog.Any("err", err), slog.String("component", "discovery"))
	}
}

func (s *Scheduler) evictLocked(now time.Time) {
	for k, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, k)
		}
	}
}

// Pending returns the number of tasks waiting for their run time.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels waiting tasks, lets running ones observe cancellation and
// releases the pool, waiting at most timeout.
func (s *Scheduler) Close(timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
	return s.pool.ReleaseTimeout(timeout)
}
