package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/storyquest/internal/reliability"
)

// FailoverBackend attempts a primary backend first and falls back on error.
type FailoverBackend struct {
	primary  Backend
	fallback Backend
}

func NewFailoverBackend(primary, fallback Backend) *FailoverBackend {
	return &FailoverBackend{primary: primary, fallback: fallback}
}

// Primary returns the preferred backend used before fallback.
func (b *FailoverBackend) Primary() Backend { return b.primary }

// Secondary returns the fallback backend.
func (b *FailoverBackend) Secondary() Backend { return b.fallback }

func (b *FailoverBackend) Name() string {
	switch {
	case b.primary == nil && b.fallback == nil:
		return "failover"
	case b.primary == nil:
		return b.fallback.Name()
	case b.fallback == nil:
		return b.primary.Name()
	default:
		return b.primary.Name() + "|" + b.fallback.Name()
	}
}

func (b *FailoverBackend) Generate(ctx context.Context, req Request) (Result, error) {
	return b.run(ctx, func(be Backend) (Result, error) {
		return be.Generate(ctx, req)
	})
}

// GenerateStream streams from whichever backend serves the call. Deltas of a
// failed primary may already have been forwarded; callers only trust the final Result.
func (b *FailoverBackend) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (Result, error) {
	return b.run(ctx, func(be Backend) (Result, error) {
		if sb, ok := be.(StreamingBackend); ok {
			return sb.GenerateStream(ctx, req, onDelta)
		}
		res, err := be.Generate(ctx, req)
		if err == nil && onDelta != nil && res.Raw != "" {
			if derr := onDelta(res.Raw); derr != nil {
				return Result{}, derr
			}
		}
		return res, err
	})
}

func (b *FailoverBackend) run(ctx context.Context, call func(Backend) (Result, error)) (Result, error) {
	if b.primary == nil {
		if b.fallback != nil {
			return call(b.fallback)
		}
		return Result{}, reliability.Permanent(errors.New("failover backend misconfigured"))
	}

	res, err := call(b.primary)
	if err == nil {
		return res, nil
	}
	if b.fallback == nil || ctx.Err() != nil ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Result{}, err
	}

	res, fallbackErr := call(b.fallback)
	if fallbackErr != nil {
		// The secondary's class decides whether the whole call is worth retrying.
		return Result{}, classifyLike(fallbackErr, fmt.Errorf("primary backend error: %w; fallback backend error: %v", err, fallbackErr))
	}
	return res, nil
}

func (b *FailoverBackend) Ping(ctx context.Context) error {
	var errs []error
	for _, be := range []Backend{b.primary, b.fallback} {
		hc, ok := be.(HealthChecker)
		if !ok {
			continue
		}
		err := hc.Ping(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", be.Name(), err))
	}
	return errors.Join(errs...)
}

func classifyLike(src, err error) error {
	switch reliability.ClassOf(src) {
	case reliability.ClassPermanent:
		return reliability.Permanent(err)
	case reliability.ClassContent:
		return reliability.Content(err)
	default:
		return reliability.Transport(err)
	}
}
