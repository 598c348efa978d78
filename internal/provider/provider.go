package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kostiks/snapback/internal/chat"
)

// RequestConfig carries everything an adapter needs to address its upstream
// for one call. The credential travels here, never in the payload.
type RequestConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Referer string
	Title   string
}

// Adapter translates the intermediate conversation into one provider's wire
// format and that provider's response back into a normalized result. Both
// directions are pure given their inputs; the orchestrator owns the actual
// HTTP exchange.
type Adapter interface {
	Name() string
	BuildRequest(ctx context.Context, cfg RequestConfig, systemPrompt string, msgs []chat.Message) (*http.Request, error)
	ParseResponse(body []byte) (*chat.Result, error)
}

// New returns the adapter for the configured provider type. Exactly one
// provider is active at a time.
func New(providerType string) (Adapter, error) {
	switch providerType {
	case "", "openai":
		return &OpenAIAdapter{}, nil
	case "google":
		return &GoogleAdapter{}, nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", providerType)
	}
}
