// Package intel implements the text-intelligence collaborators of the
// triage pipeline on top of a chat completion provider.
package intel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("github.com/junxiaogit/wecom-ai-platform/internal/intel")

// Provider is the interface for any chat completion backend.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// RateLimited wraps a Provider with a token-bucket limiter so burst triage
// passes cannot exhaust the upstream quota. Every admitted call is traced.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited allows rps calls per second with the given burst.
func NewRateLimited(inner Provider, rps float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete blocks until the limiter admits the call, then delegates.
func (r *RateLimited) Complete(ctx context.Context, system, user string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, span := tracer.Start(ctx, "llm.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.Int("llm.prompt_chars", len(system)+len(user)),
	)

	reply, err := r.inner.Complete(ctx, system, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.reply_chars", len(reply)))
	return reply, nil
}
