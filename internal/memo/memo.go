// Package memo memoizes blocking lookups by their argument value.
//
// A Cache stores completed results only. Two calls that miss on the same key
// before either finishes both run the wrapped function; the later write
// wins. Use SingleFlight on top when concurrent callers must share one
// invocation.
package memo

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"unicode/utf8"
)

// Func is a blocking lookup keyed by its argument.
type Func[K, V any] func(ctx context.Context, arg K) (V, error)

// Cache wraps a Func with a store of completed results. Entries live as
// long as the Cache; failures are never stored.
type Cache[K, V any] struct {
	fn Func[K, V]

	mu      sync.Mutex
	entries map[string]V
}

// New returns an empty cache around fn.
func New[K, V any](fn func(ctx context.Context, arg K) (V, error)) *Cache[K, V] {
	return &Cache[K, V]{
		fn:      fn,
		entries: make(map[string]V),
	}
}

// Call returns the stored result for arg, or invokes the wrapped function
// and stores its result when it succeeds.
func (c *Cache[K, V]) Call(ctx context.Context, arg K) (V, error) {
	var zero V
	key, err := Key(arg)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	v, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err = c.fn(ctx, arg)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
	return v, nil
}

// Len reports how many completed results are stored.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key returns the canonical cache key for an argument value. Structurally
// equal values produce equal keys: struct fields serialize in declaration
// order and map keys are sorted. Arguments holding invalid UTF-8 strings are
// rejected, since JSON would map distinct values onto one key.
func Key(arg any) (string, error) {
	b, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("memo key: %w", err)
	}
	if !validUTF8(reflect.ValueOf(arg)) {
		return "", fmt.Errorf("memo key: argument holds invalid UTF-8")
	}
	return string(b), nil
}

// validUTF8 walks the parts of v that encoding/json serializes as strings.
// It runs after a successful Marshal, so v has no cycles.
func validUTF8(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return utf8.ValidString(v.String())
	case reflect.Pointer, reflect.Interface:
		return v.IsNil() || validUTF8(v.Elem())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return true // base64
		}
		fallthrough
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !validUTF8(v.Index(i)) {
				return false
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if !validUTF8(iter.Key()) || !validUTF8(iter.Value()) {
				return false
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if (!f.IsExported() && !f.Anonymous) || f.Tag.Get("json") == "-" {
				continue
			}
			if !validUTF8(v.Field(i)) {
				return false
			}
		}
	}
	return true
}
