package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

type geminiClient struct {
	client  *genai.Client
	timeout time.Duration
}

func newGeminiClient(ctx context.Context, opts Options) (*geminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	if opts.HTTPClient != nil {
		cc.HTTPClient = opts.HTTPClient
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiClient{client: client, timeout: opts.Timeout}, nil
}

func (c *geminiClient) GenerativeModel(name string) Model {
	if name == "" {
		name = DefaultModel(ProviderGemini)
	}
	return &geminiModel{client: c.client, name: name, timeout: c.timeout}
}

func (c *geminiClient) Provider() string { return ProviderGemini }

// Close is a no-op; the genai client holds no resources of its own.
func (c *geminiClient) Close() error { return nil }

type geminiModel struct {
	client  *genai.Client
	name    string
	timeout time.Duration
}

func (m *geminiModel) Name() string { return m.name }

func (m *geminiModel) GenerateContent(ctx context.Context, prompt Prompt) (*Response, error) {
	ctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	parts := []*genai.Part{genai.NewPartFromText(prompt.Text)}
	if prompt.Image != nil {
		parts = append(parts, genai.NewPartFromBytes(prompt.Image.Data, prompt.Image.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := m.client.Models.GenerateContent(ctx, m.name, contents, nil)
	if err != nil {
		return nil, m.fail(err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, m.fail(fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, m.fail(errors.New("no candidates returned"))
	}

	out := &Response{Model: m.name}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought || p.Text == "" {
			continue
		}
		out.Parts = append(out.Parts, p.Text)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     u.PromptTokenCount,
			CandidatesTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return out, nil
}

func (m *geminiModel) fail(err error) error {
	return &GenerateError{Provider: ProviderGemini, Model: m.name, Err: err}
}
