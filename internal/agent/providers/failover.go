package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crosswindhq/crosswind/internal/agent"
)

// FailoverProvider tries an ordered list of providers, moving to the next on
// error. Context cancellation stops the chain immediately; the caller's
// deadline is the real bound, failover is not a retry loop.
type FailoverProvider struct {
	providers []agent.Provider
	logger    *slog.Logger
}

func NewFailoverProvider(logger *slog.Logger, providers ...agent.Provider) (*FailoverProvider, error) {
	if len(providers) == 0 {
		return nil, errors.New("failover: at least one provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{providers: providers, logger: logger}, nil
}

// Name reports the primary provider's name; metrics attribute calls to it.
func (p *FailoverProvider) Name() string {
	return p.providers[0].Name()
}

func (p *FailoverProvider) Complete(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	var lastErr error
	for i, provider := range p.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if i < len(p.providers)-1 {
			p.logger.Warn("provider failed, trying next",
				"provider", provider.Name(),
				"next", p.providers[i+1].Name(),
				"error", err)
		}
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}
