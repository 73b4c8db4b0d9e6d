package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FallbackAdapter tries the primary adapter and switches to the fallback when
// it fails, or when it produces no text before firstDeltaTimeout. Caller
// cancellation never triggers the fallback.
type FallbackAdapter struct {
	primary           Adapter
	fallback          Adapter
	firstDeltaTimeout time.Duration
}

func NewFallbackAdapter(primary, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, fallback: fallback}
}

// WithFirstDeltaTimeout enables the silent-primary cutover. Zero disables it.
func (a *FallbackAdapter) WithFirstDeltaTimeout(d time.Duration) *FallbackAdapter {
	a.firstDeltaTimeout = d
	return a
}

func (a *FallbackAdapter) Primary() Adapter {
	if a == nil {
		return nil
	}
	return a.primary
}

func (a *FallbackAdapter) Secondary() Adapter {
	if a == nil {
		return nil
	}
	return a.fallback
}

func (a *FallbackAdapter) Generate(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	if a == nil || a.primary == nil {
		if a != nil && a.fallback != nil {
			return a.fallback.Generate(ctx, req, onDelta)
		}
		return Response{}, errors.New("fallback adapter misconfigured")
	}

	resp, timedOut, err := a.runPrimary(ctx, req, onDelta)
	if err == nil && !timedOut {
		return resp, nil
	}
	if !timedOut && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return Response{}, err
	}
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	if a.fallback == nil {
		if timedOut {
			return Response{}, context.DeadlineExceeded
		}
		return Response{}, err
	}

	fallbackResp, fallbackErr := a.fallback.Generate(ctx, req, onDelta)
	if fallbackErr != nil {
		if timedOut {
			return Response{}, fmt.Errorf("primary adapter silent for %s; fallback adapter error: %w", a.firstDeltaTimeout, fallbackErr)
		}
		return Response{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}

type primaryResult struct {
	resp Response
	err  error
}

func (a *FallbackAdapter) runPrimary(ctx context.Context, req Request, onDelta DeltaHandler) (Response, bool, error) {
	if a.firstDeltaTimeout <= 0 || a.fallback == nil {
		resp, err := a.primary.Generate(ctx, req, onDelta)
		return resp, false, err
	}

	primaryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	firstDelta := make(chan struct{})
	var once sync.Once
	var accept atomic.Bool
	accept.Store(true)
	done := make(chan primaryResult, 1)

	go func() {
		resp, err := a.primary.Generate(primaryCtx, req, func(delta string) error {
			if strings.TrimSpace(delta) != "" {
				once.Do(func() { close(firstDelta) })
			}
			if !accept.Load() {
				return context.Canceled
			}
			if onDelta == nil {
				return nil
			}
			return onDelta(delta)
		})
		done <- primaryResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(a.firstDeltaTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.resp, false, r.err
	case <-firstDelta:
		r := <-done
		return r.resp, false, r.err
	case <-timer.C:
		accept.Store(false)
		cancel()
		return Response{}, true, nil
	}
}
