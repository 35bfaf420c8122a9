package memo

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// SingleFlight coalesces concurrent calls with equal keys into one
// invocation of the wrapped function. It does not store results; wrap a
// Cache's Call to get both behaviors.
//
// Coalesced callers share the context of whichever caller started the
// invocation.
type SingleFlight[K, V any] struct {
	fn    Func[K, V]
	group singleflight.Group
}

// NewSingleFlight wraps fn.
func NewSingleFlight[K, V any](fn func(ctx context.Context, arg K) (V, error)) *SingleFlight[K, V] {
	return &SingleFlight[K, V]{fn: fn}
}

// Call invokes the wrapped function unless an invocation for the same key
// is already running, in which case it waits for and returns that result.
func (s *SingleFlight[K, V]) Call(ctx context.Context, arg K) (V, error) {
	var zero V
	key, err := Key(arg)
	if err != nil {
		return zero, err
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.fn(ctx, arg)
	})
	if err != nil || v == nil {
		return zero, err
	}
	return v.(V), nil
}
