package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is durable string storage keyed by string. Last write wins.
type Store interface {
	// Get returns ok=false when nothing is stored under key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Response describes a completed round trip.
type Response struct {
	Status int
	Bytes  int64
	// TTFB is the time to the first response byte, zero when the transport can't tell.
	TTFB time.Duration
}

// Invoker performs one request/response round trip against a remote target.
type Invoker interface {
	Invoke(ctx context.Context) (Response, error)
}

// Recorder receives every completed interval, e.g. to feed a histogram.
type Recorder interface {
	ObserveLatency(name, region string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveLatency(string, string, time.Duration) {}

// ProbeResult is what a single probe run produced.
type ProbeResult struct {
	Metric   Metric
	Response Response
	// TTFB is set when the invoker reported time to first byte.
	TTFB *Metric
}

// ProbeService runs named probes through the registry and persists the
// results after each run.
type ProbeService struct {
	registry *Registry
	store    Store
	saver    *SaveBatcher
	log      *zap.Logger
	region   string
	key      string

	mu     sync.RWMutex
	probes map[string]Invoker
	order  []string
}

type ServiceOption func(*ProbeService)

func WithRegion(region string) ServiceOption {
	return func(s *ProbeService) {
		s.region = region
	}
}

func WithStoreKey(key string) ServiceOption {
	return func(s *ProbeService) {
		s.key = key
	}
}

// WithSaveBatcher routes saves through b instead of writing the store directly.
func WithSaveBatcher(b *SaveBatcher) ServiceOption {
	return func(s *ProbeService) {
		s.saver = b
	}
}

func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *ProbeService) {
		s.log = l
	}
}

func NewProbeService(r *Registry, store Store, opts ...ServiceOption) *ProbeService {
	s := &ProbeService{
		registry: r,
		store:    store,
		log:      zap.NewNop(),
		key:      DefaultStoreKey,
		probes:   make(map[string]Invoker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a probe. Probe names double as metric names.
func (s *ProbeService) Register(name string, inv Invoker) error {
	if name == "" {
		return ErrEmptyMetricName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.probes[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrDuplicateProbe)
	}
	s.probes[name] = inv
	s.order = append(s.order, name)
	return nil
}

// Probes returns the registered probe names in registration order.
func (s *ProbeService) Probes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *ProbeService) Region() string {
	return s.region
}

// Load restores previously saved metrics into the registry.
func (s *ProbeService) Load(ctx context.Context) ([]Metric, error) {
	return s.registry.LoadFromStore(ctx, s.key)
}

// Run measures the named probe once and saves the registry.
// A save failure is returned alongside the recorded result.
func (s *ProbeService) Run(ctx context.Context, name string) (ProbeResult, error) {
	s.mu.RLock()
	inv, ok := s.probes[name]
	s.mu.RUnlock()
	if !ok {
		return ProbeResult{}, fmt.Errorf("%q: %w", name, ErrUnknownProbe)
	}

	resp, m, err := Measure(ctx, s.registry, name, inv.Invoke, s.region)
	if err != nil {
		s.log.Error("probe failed", zap.String("probe", name), zap.String("region", s.region), zap.Error(err))
		return ProbeResult{}, fmt.Errorf("probe %q: %w", name, err)
	}
	res := ProbeResult{Metric: m, Response: resp}

	if resp.TTFB > 0 {
		ttfb, err := s.registry.Observe(NameTTFB+" - "+name, resp.TTFB, s.region)
		if err != nil {
			return res, err
		}
		res.TTFB = &ttfb
	}

	s.log.Info("probe completed",
		zap.String("probe", name),
		zap.String("region", s.region),
		zap.Float64("value_ms", m.Value),
		zap.Int("status", resp.Status),
	)

	if err := s.save(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// RunAll runs every registered probe concurrently. Probe names are distinct,
// so their timers never collide. Each probe runs to completion regardless of
// the others; failures are joined into the returned error.
func (s *ProbeService) RunAll(ctx context.Context) ([]ProbeResult, error) {
	names := s.Probes()
	results := make([]ProbeResult, len(names))

	errs := make([]error, len(names))

	// A failing probe must not cancel its siblings.
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i], errs[i] = s.Run(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// ClearAll drops the in-memory history and the saved copy.
func (s *ProbeService) ClearAll(ctx context.Context) error {
	s.registry.ClearMetrics()
	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete saved metrics %q: %w", s.key, err)
	}
	return nil
}

func (s *ProbeService) Export() (string, error) {
	return s.registry.ExportMetrics()
}

func (s *ProbeService) save(ctx context.Context) error {
	if s.saver == nil {
		return s.registry.SaveToStore(ctx, s.key)
	}
	res, err := s.saver.Save(ctx, s.key)
	if err != nil {
		return err
	}
	s.log.Debug("metrics saved",
		zap.String("key", res.Key),
		zap.Int("batch_size", res.BatchSize),
		zap.Duration("write", time.Duration(res.WriteEndUnixNS-res.WriteStartUnixNS)),
	)
	return nil
}
