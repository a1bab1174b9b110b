// Package providers selects and wraps the configured image-edit provider.
package providers

import (
	"context"
	"fmt"
	"log/slog"

	"ivg/internal/config"
	"ivg/internal/gateway"
	"ivg/internal/providers/gemini"
	"ivg/internal/providers/palette"
)

// Build constructs the provider variant named by cfg.Provider.Name.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gateway.Provider, error) {
	switch cfg.Provider.Name {
	case config.ProviderGemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			Model:     cfg.Provider.Model,
			ModelFast: cfg.Provider.ModelFast,
		}, logger)
	case config.ProviderPalette:
		return palette.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// NewGateway wraps provider with the resilience policy from cfg.
func NewGateway(cfg *config.Config, provider gateway.Provider, logger *slog.Logger, onChange func(provider string, from, to gateway.State)) *gateway.Gateway {
	return gateway.New(provider,
		gateway.WithLogger(logger),
		gateway.WithTimeout(cfg.ProviderTimeout()),
		gateway.WithMaxRetries(cfg.Provider.MaxRetries),
		gateway.WithRetryBackoff(cfg.BackoffBase(), cfg.BackoffMax()),
		gateway.WithBreaker(gateway.BreakerSettings{
			Threshold: cfg.Provider.BreakerThreshold,
			Window:    cfg.BreakerWindow(),
			Cooldown:  cfg.BreakerCooldown(),
		}),
		gateway.WithStateChangeHook(onChange),
	)
}
