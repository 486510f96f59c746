// internal/models/client.go
package models

import (
	"context"
	"fmt"

	"council/internal/config"
)

// Client sends one prompt to one named model. Implementations must be safe
// for concurrent use; the caller bounds each call with its context.
type Client interface {
	// Name identifies the backing provider ("openrouter" or "ollama").
	Name() string

	// Query sends msgs to the named model and returns its response. Ordinary
	// provider failures come back as OK=false results, never as panics or
	// aborts; the returned Result always names the model it belongs to.
	Query(ctx context.Context, model string, msgs []Message, temperature float64) Result
}

// New selects the provider variant once at configuration time. Credential
// problems surface here, before any request is accepted.
func New(cfg *config.Config) (Client, error) {
	switch cfg.Router {
	case config.RouterOpenRouter:
		if cfg.OpenRouter.APIKey == "" {
			return nil, config.ErrMissingAPIKey
		}
		return NewOpenRouter(cfg.OpenRouter.APIKey, cfg.OpenRouter.APIURL), nil
	case config.RouterOllama:
		return NewOllama(cfg.Ollama.Host), nil
	default:
		return nil, fmt.Errorf("%w: got %q", config.ErrInvalidRouter, cfg.Router)
	}
}
