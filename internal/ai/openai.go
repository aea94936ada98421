package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const maxTokens = 2048

type openAIClient struct {
	client  *openai.Client
	timeout time.Duration
}

func newOpenAIClient(opts Options) *openAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &openAIClient{client: openai.NewClientWithConfig(cfg), timeout: opts.Timeout}
}

func (c *openAIClient) GenerativeModel(name string) Model {
	if name == "" {
		name = DefaultModel(ProviderOpenAI)
	}
	return &openAIModel{client: c.client, name: name, timeout: c.timeout}
}

func (c *openAIClient) Provider() string { return ProviderOpenAI }

func (c *openAIClient) Close() error { return nil }

type openAIModel struct {
	client  *openai.Client
	name    string
	timeout time.Duration
}

func (m *openAIModel) Name() string { return m.name }

func (m *openAIModel) GenerateContent(ctx context.Context, prompt Prompt) (*Response, error) {
	ctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.Text}
	if prompt.Image != nil {
		dataURL := "data:" + prompt.Image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(prompt.Image.Data)
		msg = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt.Text},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
			},
		}
	}

	req := openai.ChatCompletionRequest{
		Model:    m.name,
		Messages: []openai.ChatCompletionMessage{msg},
	}
	// Reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(m.name) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, m.fail(err)
	}
	if len(resp.Choices) == 0 {
		return nil, m.fail(errors.New("no choices returned"))
	}

	return &Response{
		Model: m.name,
		Parts: []string{resp.Choices[0].Message.Content},
		Usage: Usage{
			PromptTokens:     int32(resp.Usage.PromptTokens),
			CandidatesTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:      int32(resp.Usage.TotalTokens),
		},
	}, nil
}

func (m *openAIModel) fail(err error) error {
	return &GenerateError{Provider: ProviderOpenAI, Model: m.name, Err: err}
}

func isReasoningModel(name string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
