package reconciler

import (
	"context"
	"sort"
	"time"

	"github.com/zoobzio/clockz"

	"settingsd/internal/settings"
	"settingsd/pkg/logging"
)

// Debouncer coalesces bursts of events per key. Within the window only
// the latest event per key survives (relative steps are summed) and it is
// forwarded once the key has been quiet for the whole window. Resync
// events skip the window entirely.
type Debouncer struct {
	window   time.Duration
	clock    clockz.Clock
	registry *settings.Registry
	metrics  *Metrics

	pending map[settings.Key]*pendingEvent
}

type pendingEvent struct {
	event    ChangeEvent
	deadline time.Time
	merged   int
}

// NewDebouncer creates a debouncer. A zero window forwards immediately.
func NewDebouncer(window time.Duration, clock clockz.Clock, registry *settings.Registry, metrics *Metrics) *Debouncer {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Debouncer{
		window:   window,
		clock:    clock,
		registry: registry,
		metrics:  metrics,
		pending:  make(map[settings.Key]*pendingEvent),
	}
}

// Offer adds ev at time now and returns events that must be forwarded
// immediately.
func (d *Debouncer) Offer(ev ChangeEvent, now time.Time) []ChangeEvent {
	if ev.Resync {
		// A fresh snapshot describes current truth; anything buffered for
		// the key is older than it.
		if p, ok := d.pending[ev.Key]; ok {
			logging.Debug("Debounce", "Resync of %s replaces buffered %s", ev.Key, p.event)
			delete(d.pending, ev.Key)
		}
		return []ChangeEvent{ev}
	}
	if d.window <= 0 {
		return []ChangeEvent{ev}
	}

	if p, ok := d.pending[ev.Key]; ok {
		p.event = coalesce(d.registry, p.event, ev)
		p.deadline = now.Add(d.window)
		p.merged++
		d.metrics.RecordCoalesced(ev.Key)
		return nil
	}

	d.pending[ev.Key] = &pendingEvent{event: ev, deadline: now.Add(d.window)}
	return nil
}

// Due removes and returns every event whose window has closed at now, in
// ingress order.
func (d *Debouncer) Due(now time.Time) []ChangeEvent {
	var due []ChangeEvent
	for k, p := range d.pending {
		if !p.deadline.After(now) {
			due = append(due, p.event)
			if p.merged > 0 {
				logging.Debug("Debounce", "Coalesced %d events into %s", p.merged+1, p.event)
			}
			delete(d.pending, k)
		}
	}
	sortBySequence(due)
	return due
}

// Flush removes and returns everything buffered.
func (d *Debouncer) Flush() []ChangeEvent {
	var out []ChangeEvent
	for k, p := range d.pending {
		out = append(out, p.event)
		delete(d.pending, k)
	}
	sortBySequence(out)
	return out
}

// NextDeadline returns the earliest pending deadline.
func (d *Debouncer) NextDeadline() (time.Time, bool) {
	var next time.Time
	for _, p := range d.pending {
		if next.IsZero() || p.deadline.Before(next) {
			next = p.deadline
		}
	}
	return next, !next.IsZero()
}

// Len returns the number of buffered keys.
func (d *Debouncer) Len() int {
	return len(d.pending)
}

// coalesce combines an unprocessed event with a newer one for the same
// key: a set wins, steps add up, and a step after a set is folded into the
// set.
func coalesce(registry *settings.Registry, prev, next ChangeEvent) ChangeEvent {
	if next.Op == OpSet {
		return next
	}
	switch prev.Op {
	case OpStep:
		merged := next
		merged.Step = prev.Step + next.Step
		return merged
	case OpSet:
		schema, ok := registry.Lookup(next.Key)
		if !ok {
			return next
		}
		v, err := schema.ApplyStep(prev.Value, next.Step)
		if err != nil {
			return next
		}
		merged := next
		merged.Op = OpSet
		merged.Value = v
		merged.Step = 0
		return merged
	}
	return next
}

// Run moves events from in to out until ctx is cancelled or in closes.
// On close, buffered events are flushed before returning.
func (d *Debouncer) Run(ctx context.Context, in <-chan ChangeEvent, out chan<- ChangeEvent) error {
	var timer clockz.Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	defer stopTimer()

	arm := func() {
		stopTimer()
		if next, ok := d.NextDeadline(); ok {
			delay := next.Sub(d.clock.Now())
			if delay < 0 {
				delay = 0
			}
			timer = d.clock.NewTimer(delay)
		}
	}

	forward := func(events []ChangeEvent) bool {
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	logging.Debug("Debounce", "Debouncing with a %s window", d.window)
	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-in:
			if !ok {
				forward(d.Flush())
				return nil
			}
			if !forward(d.Offer(ev, d.clock.Now())) {
				return ctx.Err()
			}
			arm()

		case <-timerC:
			timer = nil
			if !forward(d.Due(d.clock.Now())) {
				return ctx.Err()
			}
			arm()
		}
	}
}

func sortBySequence(events []ChangeEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Sequence < events[j].Sequence
	})
}
