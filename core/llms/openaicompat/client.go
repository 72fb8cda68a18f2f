// Package openaicompat streams chat completions from any endpoint that
// speaks the OpenAI chat-completions protocol. The hosted OpenAI API, Groq,
// and most self-hosted inference servers (vLLM, llama.cpp in server mode)
// expose this surface, so a single client covers every stateless-replay
// provider: each completion carries the full transcript and the server keeps
// no state between calls.
package openaicompat

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lectern-ai/lectern-core/core/llms"
)

const (
	// DefaultBaseURL targets the hosted OpenAI API. Compatible providers
	// are reached by overriding it with WithBaseURL.
	DefaultBaseURL = "https://api.openai.com/v1"

	completionsPath = "/chat/completions"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

// Client is a reusable handle on one OpenAI-compatible endpoint. It is safe
// for concurrent use; per-call settings travel on the completion options.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature *float64

	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with each request. Local inference
// servers typically accept requests without one.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithBaseURL points the client at a different deployment, e.g.
// "https://api.groq.com/openai/v1" or "http://localhost:8080/v1".
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithModel sets the default model requested when the completion options do
// not name one.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithTemperature sets the default sampling temperature. Left unset, the
// server's default applies.
func WithTemperature(temperature float64) Option {
	return func(c *Client) {
		c.temperature = &temperature
	}
}

// WithHTTPClient replaces the underlying HTTP client, e.g. to set timeouts
// or a proxy. The replacement is used as-is, without tracing middleware.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New constructs a Client for the hosted OpenAI API unless options redirect
// it elsewhere.
func New(opts ...Option) *Client {
	client := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(
				http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
					return operationName + " " + request.URL.Path
				}),
			),
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Complete opens one streaming completion carrying the given transcript.
// The request is not sent until the returned stream is consumed.
func (c *Client) Complete(ctx context.Context, turns []llms.Turn, opts ...llms.CompletionOption) llms.Stream {
	options := llms.CompletionOptions{
		Model:       c.model,
		Temperature: c.temperature,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Stream{
		client:   c,
		messages: toMessages(turns),
		options:  options,
	}
}
