package core

import (
	"fmt"
	"math"
	"time"
)

// Unit is the unit a Metric value is expressed in.
type Unit string

const (
	UnitMillis  Unit = "ms"
	UnitSeconds Unit = "seconds"
)

func (u Unit) valid() bool {
	return u == UnitMillis || u == UnitSeconds
}

// Metric is one completed timing measurement.
// Timestamp is Unix milliseconds (wall clock) at the moment the interval ended.
//
// The JSON layout is what gets persisted to a Store, keep it stable.
type Metric struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Unit      Unit    `json:"unit"`
	Timestamp int64   `json:"timestamp"`
	Region    string  `json:"region,omitempty"`
}

// Millis returns the value converted to milliseconds.
func (m Metric) Millis() float64 {
	if m.Unit == UnitSeconds {
		return m.Value * 1000
	}
	return m.Value
}

// Time returns the completion timestamp as a time.Time.
func (m Metric) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

func (m Metric) validate() error {
	if m.Name == "" {
		return ErrEmptyMetricName
	}
	if m.Value < 0 || math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return fmt.Errorf("metric %q: invalid value %v", m.Name, m.Value)
	}
	if !m.Unit.valid() {
		return fmt.Errorf("metric %q: unknown unit %q", m.Name, m.Unit)
	}
	return nil
}

// NewMetric builds a millisecond metric for an interval of length d that
// completed at end.
func NewMetric(name string, d time.Duration, end time.Time, region string) Metric {
	return Metric{
		Name:      name,
		Value:     roundMillis(d),
		Unit:      UnitMillis,
		Timestamp: end.UnixMilli(),
		Region:    region,
	}
}

// roundMillis converts d to milliseconds rounded to two decimal places.
func roundMillis(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
