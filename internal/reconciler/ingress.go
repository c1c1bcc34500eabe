package reconciler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// Ingress is the single ordered channel every producer writes to. It
// stamps events with an id, a timestamp and a sequence number. Stamping
// and enqueueing happen under one lock, so sequence order is channel order.
type Ingress struct {
	mu    sync.Mutex
	seq   uint64
	ch    chan ChangeEvent
	clock clockz.Clock
}

// NewIngress creates an ingress with the given buffer size.
func NewIngress(size int, clock clockz.Clock) *Ingress {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Ingress{ch: make(chan ChangeEvent, size), clock: clock}
}

// Submit stamps ev and enqueues it, blocking while the buffer is full.
func (i *Ingress) Submit(ctx context.Context, ev ChangeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.seq++
	ev.Sequence = i.seq
	ev.Timestamp = i.clock.Now()

	select {
	case i.ch <- ev:
		return nil
	case <-ctx.Done():
		i.seq--
		return ctx.Err()
	}
}

// Events is the read side, consumed by the debouncer.
func (i *Ingress) Events() <-chan ChangeEvent {
	return i.ch
}
