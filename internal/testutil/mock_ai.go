// mock_ai.go - Scripted generative model for testing
package testutil

import (
	"context"
	"sync"

	"github.com/lawn-analyzer/backend/internal/ai"
)

// MockModel implements ai.Model with a fixed reply or error.
type MockModel struct {
	mu      sync.Mutex
	name    string
	reply   string
	err     error
	usage   ai.Usage
	prompts []ai.Prompt

	// Gate, when set, blocks every call until it is closed or receives.
	Gate chan struct{}
	// Started receives once per call before it blocks on Gate.
	Started chan struct{}
}

// NewMockModel returns a model answering every prompt with reply.
func NewMockModel(reply string) *MockModel {
	return &MockModel{name: "mock-model", reply: reply}
}

// NewFailingModel returns a model rejecting every prompt with err.
func NewFailingModel(err error) *MockModel {
	return &MockModel{name: "mock-model", err: err}
}

// Blocking makes calls wait on Gate and announce themselves on Started.
func (m *MockModel) Blocking() *MockModel {
	m.Gate = make(chan struct{})
	m.Started = make(chan struct{}, 8)
	return m
}

func (m *MockModel) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func (m *MockModel) GenerateContent(ctx context.Context, prompt ai.Prompt) (*ai.Response, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	name, reply, err, usage := m.name, m.reply, m.err, m.usage
	gate, started := m.Gate, m.Started
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &ai.GenerateError{Provider: "mock", Model: name, Err: ctx.Err()}
		}
	}

	if err != nil {
		return nil, &ai.GenerateError{Provider: "mock", Model: name, Err: err}
	}
	return &ai.Response{Model: name, Parts: []string{reply}, Usage: usage}, nil
}

// SetReply changes the scripted reply and clears any error.
func (m *MockModel) SetReply(reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply, m.err = reply, nil
}

// SetUsage sets the token accounting returned with each reply.
func (m *MockModel) SetUsage(usage ai.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = usage
}

// SetError makes subsequent calls fail with err.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of prompts received.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns every prompt received, in order.
func (m *MockModel) Prompts() []ai.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ai.Prompt(nil), m.prompts...)
}

// MockClient implements ai.Client around a single MockModel.
type MockClient struct {
	Model *MockModel
}

func (c *MockClient) GenerativeModel(name string) ai.Model {
	if name != "" {
		c.Model.mu.Lock()
		c.Model.name = name
		c.Model.mu.Unlock()
	}
	return c.Model
}

func (c *MockClient) Provider() string { return "mock" }

func (c *MockClient) Close() error { return nil }

var (
	_ ai.Model  = (*MockModel)(nil)
	_ ai.Client = (*MockClient)(nil)
)
