package events

import (
	"time"
)

// QueryOptions filters recorded events. Zero values match everything.
type QueryOptions struct {
	Subject string
	Type    EventType
	Since   time.Time
	Limit   int
}

// Query returns matching events, newest first.
func (r *Recorder) Query(opts QueryOptions) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.history)
	}

	var out []Event
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.history)) % len(r.history)
		ev := r.history[idx]
		if opts.Subject != "" && ev.Subject != opts.Subject {
			continue
		}
		if opts.Type != "" && ev.Type != opts.Type {
			continue
		}
		if !opts.Since.IsZero() && ev.Time.Before(opts.Since) {
			continue
		}
		out = append(out, ev)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}
