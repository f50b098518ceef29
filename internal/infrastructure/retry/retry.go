// Package retry provides the shared retry and batching primitives used
// by connectors and the webhook dispatcher.
package retry

import (
	"context"
	"time"
)

// Default policy applied when callers pass zero values
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy controls how Do schedules attempts. Backoff is linear:
// the wait after attempt n is BaseDelay*n.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// ApplyDefaults fills zero values with the default policy
func (p *Policy) ApplyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
}

// Do runs fn up to p.MaxAttempts times, sleeping BaseDelay*attempt
// between attempts. It returns nil on the first success, the last error
// once attempts are exhausted, and ctx.Err() if the context is cancelled
// while waiting. fn is never called after cancellation.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p.ApplyDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.BaseDelay * time.Duration(attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// Batch splits items into consecutive chunks of at most size, preserving
// order. A size of zero or less yields a single chunk. A nil or empty
// input yields no chunks.
func Batch[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ForEachBatch applies fn to each chunk in order, stopping at the first
// error or on context cancellation.
func ForEachBatch[T any](ctx context.Context, items []T, size int, fn func(ctx context.Context, batch []T) error) error {
	for _, chunk := range Batch(items, size) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}
