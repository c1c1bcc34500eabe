package sources

import (
	"context"

	"settingsd/internal/reconciler"
)

// Adapter turns one external system into change events.
type Adapter interface {
	// Name identifies the adapter in logs and status output.
	Name() string

	// Subscribe starts delivering changes. The channel is closed when ctx
	// is done or the subscription is lost; the supervisor tells the two
	// apart by looking at ctx.
	Subscribe(ctx context.Context) (<-chan reconciler.ChangeEvent, error)

	// Snapshot reads the current state. The supervisor emits it as resync
	// events after every successful Subscribe.
	Snapshot(ctx context.Context) ([]reconciler.ChangeEvent, error)
}

// Sink receives the events of every adapter. *reconciler.Ingress
// satisfies it.
type Sink interface {
	Submit(ctx context.Context, ev reconciler.ChangeEvent) error
}

// HealthObserver is told when a source degrades and when it recovers.
type HealthObserver interface {
	SourceDegraded(name string, failures int, err error)
	SourceRecovered(name string)
}

// send delivers ev on out unless ctx is done first.
func send(ctx context.Context, out chan<- reconciler.ChangeEvent, ev reconciler.ChangeEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func asResync(events []reconciler.ChangeEvent) []reconciler.ChangeEvent {
	for i := range events {
		events[i].Resync = true
	}
	return events
}
