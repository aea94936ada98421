// Package ai wraps the external generative-content services behind a small
// client/model/response contract.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Supported providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ErrGenerate marks every failed generation. There is no finer taxonomy:
// network, credential and service errors all surface as this kind.
var ErrGenerate = errors.New("ai: generate content failed")

// ErrMissingAPIKey is returned by New when no credential was configured.
var ErrMissingAPIKey = errors.New("ai: API key is required")

// Client is a connection to a generative-content service.
type Client interface {
	// GenerativeModel returns a handle on the named model. It does not
	// contact the service.
	GenerativeModel(name string) Model
	Provider() string
	Close() error
}

// Model generates content from a prompt.
type Model interface {
	Name() string
	GenerateContent(ctx context.Context, prompt Prompt) (*Response, error)
}

// Prompt is the instruction sent to a model, optionally with one inline image.
type Prompt struct {
	Text  string
	Image *Blob
}

// Blob is inline binary data with its MIME type.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Usage reports token accounting when the service returns it.
type Usage struct {
	PromptTokens     int32 `json:"promptTokens"`
	CandidatesTokens int32 `json:"candidatesTokens"`
	TotalTokens      int32 `json:"totalTokens"`
}

// Response is a successful generation.
type Response struct {
	Model string
	Parts []string
	Usage Usage
}

// Text returns the generated text.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Parts, "")
}

// GenerateError wraps an upstream failure. Its message is the upstream
// message unchanged so callers can display it as is.
type GenerateError struct {
	Provider string
	Model    string
	Err      error
}

func (e *GenerateError) Error() string {
	return e.Err.Error()
}

func (e *GenerateError) Unwrap() error {
	return e.Err
}

func (e *GenerateError) Is(target error) bool {
	return target == ErrGenerate
}

// Options configures New.
type Options struct {
	Provider string
	APIKey   string
	BaseURL  string
	// Timeout bounds every GenerateContent call. Zero means no timeout.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New constructs a client for the configured provider.
func New(ctx context.Context, opts Options) (Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	switch strings.ToLower(opts.Provider) {
	case "", ProviderGemini:
		return newGeminiClient(ctx, opts)
	case ProviderOpenAI:
		return newOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("ai: unknown provider %q", opts.Provider)
	}
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	if strings.ToLower(provider) == ProviderOpenAI {
		return "gpt-4o-mini"
	}
	return "gemini-2.5-flash"
}

// KeyPrefix returns at most the first five characters of a credential, for logs.
func KeyPrefix(apiKey string) string {
	if len(apiKey) <= 5 {
		return apiKey
	}
	return apiKey[:5]
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
