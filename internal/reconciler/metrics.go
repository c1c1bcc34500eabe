package reconciler

import (
	"sort"
	"sync"
	"time"

	"settingsd/internal/settings"
	"settingsd/pkg/logging"
)

// Metrics tracks reconciliation counters per namespace for the status
// surface and debugging. All methods are safe on a nil receiver.
type Metrics struct {
	mu sync.RWMutex

	namespaces map[string]*namespaceMetrics
}

// namespaceMetrics holds counters for one settings namespace.
type namespaceMetrics struct {
	Namespace   string
	Events      int64
	Coalesced   int64
	Discarded   int64
	Rejected    int64
	Dispatched  int64
	Succeeded   int64
	Retried     int64
	Superseded  int64
	Abandoned   int64
	PersistErrs int64
	LastEventAt time.Time
	LastFailAt  time.Time
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{namespaces: make(map[string]*namespaceMetrics)}
}

func (m *Metrics) update(key settings.Key, fn func(*namespaceMetrics)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[key.Namespace]
	if !ok {
		ns = &namespaceMetrics{Namespace: key.Namespace}
		m.namespaces[key.Namespace] = ns
	}
	fn(ns)
}

func (m *Metrics) RecordEvent(key settings.Key) {
	m.update(key, func(n *namespaceMetrics) { n.Events++; n.LastEventAt = time.Now() })
}

func (m *Metrics) RecordCoalesced(key settings.Key) {
	m.update(key, func(n *namespaceMetrics) { n.Coalesced++ })
}

func (m *Metrics) RecordDiscarded(key settings.Key) {
	m.update(key, func(n *namespaceMetrics) { n.Discarded++ })
}

func (m *Metrics) RecordRejected(key settings.Key) {
	m.update(key, func(n *namespaceMetrics) { n.Rejected++ })
}

func (m *Metrics) RecordDispatch(key settings.Key) {
	m.update(key, func(n *namespaceMetrics) { n.Dispatched++ })
}

func (m *Metrics) RecordSuccess(key settings.Key) {
	m.update(key, func(n *namespaceMetrics) { n.Succeeded++ })
}

func (m *Metrics) RecordRetry(key settings.Key) {
	m.update(key, func(n *namespaceMetrics) { n.Retried++ })
}

func (m *Metrics) RecordSuperseded(key settings.Key) {
	m.update(key, func(n *namespaceMetrics) { n.Superseded++ })
}

// RecordAbandoned records a transition given up after failing.
func (m *Metrics) RecordAbandoned(key settings.Key, reason string) {
	m.update(key, func(n *namespaceMetrics) {
		n.Abandoned++
		n.LastFailAt = time.Now()
		logging.Debug("ReconcilerMetrics", "Abandoned %s: %s (abandoned in %s: %d)", key, reason, key.Namespace, n.Abandoned)
	})
}

func (m *Metrics) RecordPersistFailure(key settings.Key) {
	m.update(key, func(n *namespaceMetrics) { n.PersistErrs++ })
}

// MetricsSummary is a read-only view of all counters.
type MetricsSummary struct {
	TotalEvents     int64           `json:"total_events"`
	TotalDispatched int64           `json:"total_dispatched"`
	TotalSucceeded  int64           `json:"total_succeeded"`
	TotalAbandoned  int64           `json:"total_abandoned"`
	Namespaces      []NamespaceView `json:"namespaces"`
}

// NamespaceView is a read-only view of one namespace's counters.
type NamespaceView struct {
	Namespace   string    `json:"namespace"`
	Events      int64     `json:"events"`
	Coalesced   int64     `json:"coalesced"`
	Discarded   int64     `json:"discarded"`
	Rejected    int64     `json:"rejected"`
	Dispatched  int64     `json:"dispatched"`
	Succeeded   int64     `json:"succeeded"`
	Retried     int64     `json:"retried"`
	Superseded  int64     `json:"superseded"`
	Abandoned   int64     `json:"abandoned"`
	PersistErrs int64     `json:"persist_errors"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
	LastFailAt  time.Time `json:"last_fail_at,omitempty"`
}

// Summary returns a snapshot sorted by namespace.
func (m *Metrics) Summary() MetricsSummary {
	var s MetricsSummary
	if m == nil {
		return s
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, n := range m.namespaces {
		s.TotalEvents += n.Events
		s.TotalDispatched += n.Dispatched
		s.TotalSucceeded += n.Succeeded
		s.TotalAbandoned += n.Abandoned
		s.Namespaces = append(s.Namespaces, NamespaceView(*n))
	}
	sort.Slice(s.Namespaces, func(i, j int) bool {
		return s.Namespaces[i].Namespace < s.Namespaces[j].Namespace
	})
	return s
}

// Namespace returns the counters of one namespace.
func (m *Metrics) Namespace(ns string) (NamespaceView, bool) {
	if m == nil {
		return NamespaceView{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return NamespaceView{}, false
	}
	return NamespaceView(*n), true
}
