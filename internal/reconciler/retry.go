package reconciler

import (
	"time"

	"github.com/zoobzio/clockz"

	"settingsd/internal/settings"
)

// retryFire tells the engine loop that a scheduled retry is due.
type retryFire struct {
	key        settings.Key
	generation uint64
}

// retryScheduler keeps at most one pending retry timer per key.
// Scheduling a key again cancels the existing timer first. It is only
// used from the engine goroutine, so it needs no locking.
type retryScheduler struct {
	clock   clockz.Clock
	fired   chan retryFire
	done    chan struct{}
	pending map[settings.Key]*scheduledRetry
}

type scheduledRetry struct {
	generation uint64
	timer      clockz.Timer
	stop       chan struct{}
}

func newRetryScheduler(clock clockz.Clock) *retryScheduler {
	return &retryScheduler{
		clock:   clock,
		fired:   make(chan retryFire),
		done:    make(chan struct{}),
		pending: make(map[settings.Key]*scheduledRetry),
	}
}

// Schedule fires (key, generation) after delay.
func (s *retryScheduler) Schedule(key settings.Key, generation uint64, delay time.Duration) {
	s.Cancel(key)

	r := &scheduledRetry{
		generation: generation,
		timer:      s.clock.NewTimer(delay),
		stop:       make(chan struct{}),
	}
	s.pending[key] = r

	go func() {
		select {
		case <-r.timer.C():
		case <-r.stop:
			return
		case <-s.done:
			return
		}
		select {
		case s.fired <- retryFire{key: key, generation: generation}:
		case <-r.stop:
		case <-s.done:
		}
	}()
}

// Cancel stops the pending retry of key, if any.
func (s *retryScheduler) Cancel(key settings.Key) {
	if r, ok := s.pending[key]; ok {
		r.timer.Stop()
		close(r.stop)
		delete(s.pending, key)
	}
}

// Forget drops bookkeeping for the retry of key that fired for
// generation. A newer retry scheduled since then is kept.
func (s *retryScheduler) Forget(key settings.Key, generation uint64) {
	if r, ok := s.pending[key]; ok && r.generation == generation {
		delete(s.pending, key)
	}
}

// Len returns the number of scheduled retries.
func (s *retryScheduler) Len() int {
	return len(s.pending)
}

// Shutdown cancels every pending retry.
func (s *retryScheduler) Shutdown() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	for key, r := range s.pending {
		r.timer.Stop()
		delete(s.pending, key)
	}
}
