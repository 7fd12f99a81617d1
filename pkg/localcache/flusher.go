package localcache

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/guardantio/guardant/pkg/probe"
)

// PublishFunc delivers one buffered result; it should return a non-nil
// error only for a transport failure worth retrying (not a permanent
// encoding error, which Append would already have caught).
type PublishFunc func(ctx context.Context, id string, result probe.Result) error

// Flusher drains a Cache in FIFO order, backing off 250ms->30s (doubling)
// between attempts whenever publish fails so a down broker doesn't turn
// into a hot retry loop.
type Flusher struct {
	cache   *Cache
	publish PublishFunc
	batch   int
}

func NewFlusher(cache *Cache, publish PublishFunc, batch int) *Flusher {
	if batch <= 0 {
		batch = 32
	}
	return &Flusher{cache: cache, publish: publish, batch: batch}
}

// Run drains the cache until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2

	for {
		if ctx.Err() != nil {
			return
		}

		batch := f.cache.Peek(f.batch)
		if len(batch) == 0 {
			select {
			case <-time.After(250 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		ok := true
		for _, rec := range batch {
			if err := f.publish(ctx, rec.ID, rec.Result); err != nil {
				ok = false
				break
			}
			if err := f.cache.Ack(rec.ID); err != nil {
				ok = false
				break
			}
		}

		if ok {
			b.Reset()
			continue
		}

		wait := b.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}
