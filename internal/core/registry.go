package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultStoreKey is the key metrics are saved under when the caller has no preference.
const DefaultStoreKey = "performance-metrics"

// Registry records named timing intervals and keeps the completed ones in
// completion order. One Registry is built per process and handed to whoever
// needs it.
//
// Timers are keyed by name only. Two in-flight timers sharing a name clobber
// each other: the second StartTimer overwrites the first start, and the first
// EndTimer consumes the second start. Use distinct names for concurrent work.
type Registry struct {
	clock    clock.Clock
	log      *zap.Logger
	store    Store
	recorder Recorder

	mu      sync.Mutex
	metrics []Metric
	pending map[string]time.Time
}

type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// WithRecorder mirrors every completed metric into rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) {
		r.recorder = rec
	}
}

func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		clock:    clock.New(),
		log:      zap.NewNop(),
		store:    store,
		recorder: nopRecorder{},
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartTimer records the current time under name, replacing any pending start.
func (r *Registry) StartTimer(name string) {
	if name == "" {
		return
	}
	now := r.clock.Now()

	r.mu.Lock()
	r.pending[name] = now
	r.mu.Unlock()
}

// EndTimer completes the pending timer for name and appends the resulting Metric.
func (r *Registry) EndTimer(name, region string) (Metric, error) {
	now := r.clock.Now()

	r.mu.Lock()
	start, ok := r.pending[name]
	if !ok {
		r.mu.Unlock()
		return Metric{}, fmt.Errorf("timer %q: %w", name, ErrTimerNotStarted)
	}
	elapsed := now.Sub(start)
	m := NewMetric(name, elapsed, now, region)
	r.metrics = append(r.metrics, m)
	delete(r.pending, name)
	r.mu.Unlock()

	r.recorder.ObserveLatency(name, region, elapsed)
	return m, nil
}

// Observe appends a metric for an interval that was timed elsewhere,
// e.g. time to first byte reported by an HTTP trace.
func (r *Registry) Observe(name string, d time.Duration, region string) (Metric, error) {
	if name == "" {
		return Metric{}, ErrEmptyMetricName
	}
	m := NewMetric(name, d, r.clock.Now(), region)

	r.mu.Lock()
	r.metrics = append(r.metrics, m)
	r.mu.Unlock()

	r.recorder.ObserveLatency(name, region, d)
	return m, nil
}

// discard drops the pending timer for name without producing a Metric.
func (r *Registry) discard(name string) {
	r.mu.Lock()
	delete(r.pending, name)
	r.mu.Unlock()
}

// Pending reports whether a timer is in flight under name.
func (r *Registry) Pending(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[name]
	return ok
}

// Metrics returns a copy of every recorded metric in completion order.
func (r *Registry) Metrics() []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// MetricsByName returns the metrics whose name equals name exactly.
func (r *Registry) MetricsByName(name string) []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Metric
	for _, m := range r.metrics {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// ClearMetrics drops the recorded history. Pending timers survive.
func (r *Registry) ClearMetrics() {
	r.mu.Lock()
	r.metrics = nil
	r.mu.Unlock()
}

// ExportMetrics renders the full history as indented JSON.
func (r *Registry) ExportMetrics() (string, error) {
	metrics := r.Metrics()
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export metrics: %w", err)
	}
	return string(data), nil
}

func (r *Registry) SaveToStore(ctx context.Context, key string) error {
	data, err := r.ExportMetrics()
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("save metrics %q: %w", key, err)
	}
	return nil
}

// LoadFromStore appends the metrics saved under key to the in-memory history
// and returns the restored entries. Unparsable data is logged and restores nothing.
func (r *Registry) LoadFromStore(ctx context.Context, key string) ([]Metric, error) {
	data, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load metrics %q: %w", key, err)
	}
	if !ok || data == "" {
		return nil, nil
	}

	restored, err := decodeMetrics(data)
	if err != nil {
		perr := &PersistenceReadError{Key: key, Err: err}
		r.log.Warn("failed to load performance metrics", zap.String("key", key), zap.Error(perr))
		return nil, nil
	}

	r.mu.Lock()
	r.metrics = append(r.metrics, restored...)
	r.mu.Unlock()

	r.log.Debug("loaded performance metrics", zap.String("key", key), zap.Int("count", len(restored)))
	return restored, nil
}

func decodeMetrics(data string) ([]Metric, error) {
	var metrics []Metric
	if err := json.Unmarshal([]byte(data), &metrics); err != nil {
		return nil, err
	}
	// A JSON null decodes to a nil slice without error.
	if metrics == nil {
		return nil, errors.New("stored metrics are not an array")
	}
	for i, m := range metrics {
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return metrics, nil
}
