package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// FailoverClient tries a primary provider and falls back to a secondary
// on error. Rate limits and provider outages degrade to the fallback
// instead of failing the user-facing request.
type FailoverClient struct {
	primary  Client
	fallback Client
	logger   *slog.Logger
}

// NewFailoverClient wraps primary with an optional fallback. A nil
// fallback makes this a transparent passthrough.
func NewFailoverClient(primary, fallback Client, logger *slog.Logger) *FailoverClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverClient{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Complete tries the primary and falls back on error.
func (f *FailoverClient) Complete(ctx context.Context, messages []Message) (string, error) {
	text, err := f.primary.Complete(ctx, messages)
	if err == nil {
		return text, nil
	}
	if f.fallback == nil || ctx.Err() != nil {
		return "", err
	}

	f.logger.Warn("primary LLM failed, using fallback", "error", err)
	text, ferr := f.fallback.Complete(ctx, messages)
	if ferr != nil {
		return "", fmt.Errorf("primary: %v; fallback: %w", err, ferr)
	}
	return text, nil
}

// Stream tries the primary and falls back on error, but only if no
// tokens have been forwarded yet — a half-streamed response cannot be
// restarted transparently.
func (f *FailoverClient) Stream(ctx context.Context, messages []Message, onToken func(string)) (string, error) {
	streamed := false
	wrapped := func(token string) {
		streamed = true
		if onToken != nil {
			onToken(token)
		}
	}

	text, err := f.primary.Stream(ctx, messages, wrapped)
	if err == nil {
		return text, nil
	}
	if f.fallback == nil || streamed || ctx.Err() != nil {
		return "", err
	}

	f.logger.Warn("primary LLM stream failed, using fallback", "error", err)
	text, ferr := f.fallback.Stream(ctx, messages, onToken)
	if ferr != nil {
		return "", fmt.Errorf("primary: %v; fallback: %w", err, ferr)
	}
	return text, nil
}

// Ping checks the primary provider.
func (f *FailoverClient) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}
