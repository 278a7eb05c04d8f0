package core

import "context"

// Measure times op under name and records the interval in r.
//
// If op fails or panics, the pending timer is dropped and no Metric is
// recorded; op's error is returned as is.
func Measure[T any](ctx context.Context, r *Registry, name string, op func(context.Context) (T, error), region string) (T, Metric, error) {
	r.StartTimer(name)
	completed := false
	defer func() {
		if !completed {
			r.discard(name)
		}
	}()

	result, err := op(ctx)
	if err != nil {
		var zero T
		return zero, Metric{}, err
	}

	m, err := r.EndTimer(name, region)
	if err != nil {
		return result, Metric{}, err
	}
	completed = true
	return result, m, nil
}

// MeasureFunc is Measure for operations that only report an error.
func MeasureFunc(ctx context.Context, r *Registry, name string, op func(context.Context) error, region string) (Metric, error) {
	_, m, err := Measure(ctx, r, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, region)
	return m, err
}
