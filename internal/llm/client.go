package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rejoin/internal/chat"
)

// Request is the normalized request for one model turn.
type Request struct {
	Model              string         `json:"model"`
	Input              []chat.Message `json:"input"`
	PreviousResponseID string         `json:"previousResponseId,omitempty"`
	Tools              []string       `json:"tools,omitempty"`

	// TurnID deduplicates retried sends on transports that support it.
	TurnID string `json:"-"`
}

// Response is the final result after a stream has fully drained. ID may be
// empty when the service returned no response identifier; callers treat that
// as a degraded continuation, not an error.
type Response struct {
	ID   string
	Text string
}

// DeltaHandler receives streamed text fragments in arrival order.
type DeltaHandler func(delta string) error

// Client produces one model response per request, streaming text as it
// arrives.
type Client interface {
	StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config controls client construction.
type Config struct {
	Mode         string
	APIBaseURL   string
	APIKey       string
	GatewayURL   string
	GatewayToken string
	Timeout      time.Duration
}

// New builds the client for the configured mode. Auto prefers the gateway
// when a token is configured, then HTTP when an API key is present, and
// falls back to the offline mock so the session engine stays usable without
// network access.
func New(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.GatewayToken) != "" {
			return NewGatewayClient(cfg.GatewayURL, cfg.GatewayToken)
		}
		if strings.TrimSpace(cfg.APIKey) != "" && strings.TrimSpace(cfg.APIBaseURL) != "" {
			return NewHTTPClient(cfg.APIBaseURL, cfg.APIKey, cfg.Timeout), nil
		}
		return NewMockClient(), nil
	case "gateway":
		return NewGatewayClient(cfg.GatewayURL, cfg.GatewayToken)
	case "http":
		if strings.TrimSpace(cfg.APIBaseURL) == "" {
			return nil, errors.New("api base url is required for http mode")
		}
		return NewHTTPClient(cfg.APIBaseURL, cfg.APIKey, cfg.Timeout), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported client mode %q", cfg.Mode)
	}
}

// StatusError reports a non-2xx HTTP response from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("response service status %d: %s", e.StatusCode, e.Body)
}

// GatewayError reports a failed gateway request.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway request failed: %s", e.Code)
	}
	return fmt.Sprintf("gateway request failed (%s): %s", e.Code, e.Message)
}
