package models

import "time"

// Operation names a user-triggered request a page can have in flight.
type Operation string

const (
	OperationAnalyze Operation = "analyze"
	OperationTest    Operation = "test"
)

// OperationState is the in-flight state of a single operation.
type OperationState struct {
	Loading   bool       `json:"loading"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// PageView is the renderable state of one open page.
type PageView struct {
	ID             string                       `json:"id"`
	Photo          *Photo                       `json:"photo,omitempty"`
	PreviewURL     string                       `json:"previewUrl,omitempty"`
	Analysis       *string                      `json:"analysis"`
	Loading        bool                         `json:"loading"` // analyze in flight
	AnalyzeEnabled bool                         `json:"analyzeEnabled"`
	Operations     map[Operation]OperationState `json:"operations"`
	CreatedAt      time.Time                    `json:"createdAt"`
}

// AnalysisOutcome is the result of one press of "Analyze".
type AnalysisOutcome struct {
	SessionID  string  `json:"sessionId"`
	Skipped    bool    `json:"skipped"` // no photo selected, nothing sent
	Failed     bool    `json:"failed"`
	Analysis   *string `json:"analysis"`
	DurationMs int64   `json:"durationMs,omitempty"`
}

// TestOutcome is the result of an ad-hoc API test. Message is the text the
// page shows in its alert.
type TestOutcome struct {
	Question string `json:"question"`
	Text     string `json:"text,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message"`
}

// EventType identifies a page session event pushed over the websocket.
type EventType string

const (
	EventState    EventType = "state"
	EventAnalysis EventType = "analysis"
	EventTest     EventType = "test"
	EventClosed   EventType = "closed"
)

// Event is a state change of a page session.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"sessionId"`
	View      *PageView    `json:"view,omitempty"`
	Test      *TestOutcome `json:"test,omitempty"`
	Timestamp int64        `json:"timestamp"`
}
