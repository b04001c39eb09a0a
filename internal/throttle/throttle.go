// Package throttle rate-limits chunk-locker's store uploads so one snapshot
// run cannot saturate the outbound link a shared store (especially a
// remote S3 endpoint) depends on.
package throttle

import (
	"context"
	"io"

	"golang.org/x/time/rate"

	"github.com/mattiekat/chunk-locker/internal/store"
)

// maxBurstSize caps how many bytes a single WaitN reservation may request,
// so a large chunk doesn't reserve the limiter far into the future in one
// shot; instead its read is split into burst-sized pieces.
const maxBurstSize = 256 * 1024

// Store wraps a store.Store, limiting the rate at which Put reads its
// source reader. Get and Delete pass through unthrottled: download and
// deletion traffic is not the resource this module is trying to protect.
type Store struct {
	inner   store.Store
	limiter *rate.Limiter
}

// Wrap returns a throttled view of inner capped at bytesPerSec. If
// bytesPerSec <= 0, inner is returned unwrapped.
func Wrap(inner store.Store, bytesPerSec int64) store.Store {
	if bytesPerSec <= 0 {
		return inner
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &Store{inner: inner, limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader) (store.Object, error) {
	return s.inner.Put(ctx, key, &reader{ctx: ctx, r: r, limiter: s.limiter})
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.inner.Get(ctx, key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, key)
}

// reader wraps an io.Reader, waiting on limiter before each underlying
// Read so the bytes a caller pulls through it never exceed the configured
// rate, regardless of how large a single Read request is.
type reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (tr *reader) Read(p []byte) (int, error) {
	if len(p) > tr.limiter.Burst() {
		p = p[:tr.limiter.Burst()]
	}
	if err := tr.limiter.WaitN(tr.ctx, len(p)); err != nil {
		return 0, err
	}
	return tr.r.Read(p)
}
