package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"region-latency/internal/db"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *clock.Mock, *db.MemoryStore) {
	t.Helper()
	mock := clock.NewMock()
	store := db.NewMemoryStore()
	r := NewRegistry(store, append([]Option{WithClock(mock)}, opts...)...)
	return r, mock, store
}

func TestEndTimerWithoutStart(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	for _, name := range []string{"X", "never started", ""} {
		_, err := r.EndTimer(name, "")
		require.ErrorIs(t, err, ErrTimerNotStarted, name)
	}
	assert.Empty(t, r.Metrics())
}

func TestEndTimerRoundsToTwoDecimals(t *testing.T) {
	r, mock, _ := newTestRegistry(t)

	mock.Add(100 * time.Millisecond)
	r.StartTimer("X")
	mock.Add(45370 * time.Microsecond)

	m, err := r.EndTimer("X", "")
	require.NoError(t, err)
	assert.Equal(t, "X", m.Name)
	assert.Equal(t, 45.37, m.Value)
	assert.Equal(t, UnitMillis, m.Unit)
	assert.Equal(t, int64(145), m.Timestamp)
	assert.Empty(t, m.Region)
	assert.False(t, r.Pending("X"))

	mock.Add(time.Millisecond)
	r.StartTimer("Y")
	mock.Add(1234567 * time.Nanosecond)
	m, err = r.EndTimer("Y", "iad1")
	require.NoError(t, err)
	assert.Equal(t, 1.23, m.Value)
	assert.Equal(t, "iad1", m.Region)

	assert.Equal(t, []Metric{
		{Name: "X", Value: 45.37, Unit: UnitMillis, Timestamp: 145},
		{Name: "Y", Value: 1.23, Unit: UnitMillis, Timestamp: 147, Region: "iad1"},
	}, r.Metrics())
}

func TestEndTimerTwiceFails(t *testing.T) {
	r, mock, _ := newTestRegistry(t)

	r.StartTimer("X")
	mock.Add(time.Millisecond)
	_, err := r.EndTimer("X", "")
	require.NoError(t, err)

	_, err = r.EndTimer("X", "")
	require.ErrorIs(t, err, ErrTimerNotStarted)
	assert.Len(t, r.Metrics(), 1)
}

func TestStartTimerLastStartWins(t *testing.T) {
	r, mock, _ := newTestRegistry(t)

	r.StartTimer("X")
	mock.Add(50 * time.Millisecond)
	r.StartTimer("X")
	mock.Add(10 * time.Millisecond)

	m, err := r.EndTimer("X", "")
	require.NoError(t, err)
	assert.Equal(t, 10.0, m.Value)
}

func TestZeroLengthInterval(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	r.StartTimer("X")
	m, err := r.EndTimer("X", "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Value)
}

func TestMetricsIsDefensiveCopy(t *testing.T) {
	r, mock, _ := newTestRegistry(t)
	r.StartTimer("X")
	mock.Add(time.Millisecond)
	_, err := r.EndTimer("X", "")
	require.NoError(t, err)

	got := r.Metrics()
	got[0].Name = "mutated"

	assert.Equal(t, "X", r.Metrics()[0].Name)
	assert.Len(t, r.Metrics(), 1)

	byName := r.MetricsByName("X")
	byName[0].Value = 999
	assert.Equal(t, 1.0, r.MetricsByName("X")[0].Value)
}

func TestMetricsByNameExactMatchInOrder(t *testing.T) {
	r, mock, _ := newTestRegistry(t)
	for _, step := range []struct {
		name string
		d    time.Duration
	}{
		{"API Route - GET", 10 * time.Millisecond},
		{"API Route - GET (cold)", 20 * time.Millisecond},
		{"API Route - GET", 30 * time.Millisecond},
	} {
		r.StartTimer(step.name)
		mock.Add(step.d)
		_, err := r.EndTimer(step.name, "")
		require.NoError(t, err)
	}

	got := r.MetricsByName("API Route - GET")
	require.Len(t, got, 2)
	assert.Equal(t, 10.0, got[0].Value)
	assert.Equal(t, 30.0, got[1].Value)
	assert.Empty(t, r.MetricsByName("API Route"))
}

func TestClearMetricsKeepsPendingTimers(t *testing.T) {
	r, mock, _ := newTestRegistry(t)

	r.StartTimer("done")
	mock.Add(time.Millisecond)
	_, err := r.EndTimer("done", "")
	require.NoError(t, err)

	r.StartTimer("in-flight")
	r.ClearMetrics()
	assert.Empty(t, r.Metrics())

	mock.Add(5 * time.Millisecond)
	m, err := r.EndTimer("in-flight", "")
	require.NoError(t, err)
	assert.Equal(t, 5.0, m.Value)
	assert.Len(t, r.Metrics(), 1)
}

func TestExportMetrics(t *testing.T) {
	r, mock, _ := newTestRegistry(t)

	out, err := r.ExportMetrics()
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	mock.Add(time.Second)
	r.StartTimer("X")
	mock.Add(12500 * time.Microsecond)
	_, err = r.EndTimer("X", "fra1")
	require.NoError(t, err)

	out, err = r.ExportMetrics()
	require.NoError(t, err)
	assert.Equal(t, `[
  {
    "name": "X",
    "value": 12.5,
    "unit": "ms",
    "timestamp": 1012,
    "region": "fra1"
  }
]`, out)
}

func TestSaveLoadRoundTripAppends(t *testing.T) {
	ctx := context.Background()
	r, mock, store := newTestRegistry(t)

	for _, name := range []string{"A", "B"} {
		r.StartTimer(name)
		mock.Add(20 * time.Millisecond)
		_, err := r.EndTimer(name, "sfo1")
		require.NoError(t, err)
	}
	saved := r.Metrics()
	require.NoError(t, r.SaveToStore(ctx, DefaultStoreKey))

	other := NewRegistry(store, WithClock(mock))
	other.StartTimer("C")
	mock.Add(time.Millisecond)
	existing, err := other.EndTimer("C", "")
	require.NoError(t, err)

	restored, err := other.LoadFromStore(ctx, DefaultStoreKey)
	require.NoError(t, err)
	assert.Equal(t, saved, restored)
	assert.Equal(t, append([]Metric{existing}, saved...), other.Metrics())

	// Loading again is additive too.
	_, err = other.LoadFromStore(ctx, DefaultStoreKey)
	require.NoError(t, err)
	assert.Len(t, other.Metrics(), 5)
}

func TestLoadMissingKey(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	restored, err := r.LoadFromStore(context.Background(), "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, restored)
	assert.Empty(t, r.Metrics())
}

func TestLoadMalformedIsLoggedAndIgnored(t *testing.T) {
	ctx := context.Background()
	obs, logs := observer.New(zapcore.WarnLevel)
	r, _, store := newTestRegistry(t, WithLogger(zap.New(obs)))

	for _, data := range []string{
		"{not json",
		`{"name":"X"}`,
		`[{"name":"","value":1,"unit":"ms","timestamp":1}]`,
		`[{"name":"X","value":-1,"unit":"ms","timestamp":1}]`,
		`[{"name":"X","value":1,"unit":"minutes","timestamp":1}]`,
		"null",
		" null\n",
	} {
		require.NoError(t, store.Set(ctx, "k", data))
		restored, err := r.LoadFromStore(ctx, "k")
		require.NoError(t, err, data)
		assert.Empty(t, restored, data)
	}
	assert.Empty(t, r.Metrics())

	entries := logs.FilterMessage("failed to load performance metrics").All()
	require.Len(t, entries, 7)
	field, ok := entries[0].ContextMap()["key"]
	require.True(t, ok)
	assert.Equal(t, "k", field)
}

type failingStore struct {
	err error
}

func (f failingStore) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingStore) Set(context.Context, string, string) error         { return f.err }
func (f failingStore) Delete(context.Context, string) error              { return f.err }

func TestStoreErrorsAreReturned(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")
	r := NewRegistry(failingStore{err: boom}, WithClock(clock.NewMock()))

	require.ErrorIs(t, r.SaveToStore(ctx, "k"), boom)

	_, err := r.LoadFromStore(ctx, "k")
	require.ErrorIs(t, err, boom)
	var perr *PersistenceReadError
	assert.False(t, errors.As(err, &perr))
}

type recordedLatency struct {
	name, region string
	d            time.Duration
}

type fakeRecorder struct {
	got []recordedLatency
}

func (f *fakeRecorder) ObserveLatency(name, region string, d time.Duration) {
	f.got = append(f.got, recordedLatency{name, region, d})
}

func TestRecorderSeesCompletedIntervals(t *testing.T) {
	rec := &fakeRecorder{}
	r, mock, _ := newTestRegistry(t, WithRecorder(rec))

	r.StartTimer("X")
	mock.Add(42 * time.Millisecond)
	_, err := r.EndTimer("X", "hnd1")
	require.NoError(t, err)

	_, err = r.Observe(NameTTFB, 7*time.Millisecond, "hnd1")
	require.NoError(t, err)

	assert.Equal(t, []recordedLatency{
		{"X", "hnd1", 42 * time.Millisecond},
		{NameTTFB, "hnd1", 7 * time.Millisecond},
	}, rec.got)
}

func TestObserve(t *testing.T) {
	r, mock, _ := newTestRegistry(t)
	mock.Add(2 * time.Second)

	m, err := r.Observe(NamePageLoad, 1500*time.Millisecond+4*time.Microsecond, "")
	require.NoError(t, err)
	assert.Equal(t, Metric{Name: NamePageLoad, Value: 1500, Unit: UnitMillis, Timestamp: 2000}, m)

	_, err = r.Observe("", time.Millisecond, "")
	require.ErrorIs(t, err, ErrEmptyMetricName)
	assert.Len(t, r.Metrics(), 1)
}
