package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"settingsd/internal/dbusutil"
	"settingsd/internal/reconciler"
	"settingsd/pkg/logging"
)

// Handler performs the actions of one subsystem.
type Handler interface {
	Handle(ctx context.Context, action reconciler.PendingAction) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, action reconciler.PendingAction) error

func (f HandlerFunc) Handle(ctx context.Context, action reconciler.PendingAction) error {
	return f(ctx, action)
}

// Router routes actions to subsystem handlers and bounds how many run at
// once per subsystem. The engine guarantees at most one action per key;
// the bound keeps different keys of one subsystem from piling onto a
// slow service.
type Router struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	sems       map[string]*semaphore.Weighted
	limits     map[string]int
	defaultMax int
}

// NewRouter creates a router. limits maps subsystem to its concurrency;
// unlisted subsystems run one action at a time.
func NewRouter(limits map[string]int) *Router {
	return &Router{
		handlers:   make(map[string]Handler),
		sems:       make(map[string]*semaphore.Weighted),
		limits:     limits,
		defaultMax: 1,
	}
}

// Register installs h for subsystem, replacing any previous handler.
func (r *Router) Register(subsystem string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.defaultMax
	if l, ok := r.limits[subsystem]; ok && l > 0 {
		n = l
	}
	r.handlers[subsystem] = h
	r.sems[subsystem] = semaphore.NewWeighted(int64(n))
	logging.Debug("Dispatch", "Registered %s handler (concurrency %d)", subsystem, n)
}

// Subsystems lists the registered subsystems.
func (r *Router) Subsystems() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for s := range r.handlers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs action on its subsystem's handler. Failures are wrapped
// in a *reconciler.DispatchError; unknown subsystems are permanent.
func (r *Router) Dispatch(ctx context.Context, action reconciler.PendingAction) error {
	r.mu.RLock()
	h, ok := r.handlers[action.Subsystem]
	sem := r.sems[action.Subsystem]
	r.mu.RUnlock()

	if !ok {
		return r.wrap(action, reconciler.Permanentf("no handler for subsystem %q", action.Subsystem))
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return r.wrap(action, err)
	}
	defer sem.Release(1)

	start := time.Now()
	err := h.Handle(ctx, action)
	if err != nil {
		return r.wrap(action, err)
	}
	logging.Debug("Dispatch", "%s done in %s", action, time.Since(start).Round(time.Millisecond))
	return nil
}

func (r *Router) wrap(action reconciler.PendingAction, err error) error {
	return &reconciler.DispatchError{Subsystem: action.Subsystem, Operation: action.Operation, Err: err}
}

// classifyBus marks bus errors that retrying cannot fix as permanent.
func classifyBus(err error) error {
	if err == nil || dbusutil.IsTransient(err) {
		return err
	}
	return reconciler.Permanent(err)
}

// errUnknownOperation builds the permanent error for an operation a
// handler does not implement.
func errUnknownOperation(action reconciler.PendingAction) error {
	return reconciler.Permanent(errors.New("unsupported operation " + action.Operation))
}
