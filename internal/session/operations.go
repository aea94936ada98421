package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/lawn-analyzer/backend/internal/ai"
	"github.com/lawn-analyzer/backend/internal/logging"
	"github.com/lawn-analyzer/backend/internal/models"
	"github.com/lawn-analyzer/backend/internal/storage"
	"github.com/rs/zerolog"
)

// Display prefixes for failed and successful requests.
const (
	AnalysisErrorPrefix = "Error analyzing lawn: "
	TestResponsePrefix  = "API Test Response: "
	TestErrorPrefix     = "API Test Error: "
)

// Analyze sends the analysis prompt for the session's selected photo and
// stores the returned text, or the formatted error, as the result.
//
// Without a selected photo nothing is sent and the result is left as is.
// Once the request is issued it is not cancelled by ctx; the adapter timeout
// bounds it instead.
func (m *Manager) Analyze(ctx context.Context, id string) (*models.AnalysisOutcome, error) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	state.lastAccessed = m.now()
	m.log.Info().Str("session", logging.ShortID(id)).Msg("analyze requested")

	if state.photo == nil {
		outcome := &models.AnalysisOutcome{SessionID: id, Skipped: true, Analysis: copyString(state.analysis)}
		m.mu.Unlock()
		m.log.Info().Str("session", logging.ShortID(id)).Msg("no file selected, analyze skipped")
		return outcome, nil
	}

	if err := m.beginLocked(state, models.OperationAnalyze); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	state.analysis = nil
	photo := *state.photo
	m.publishLocked(state, models.EventState, nil)
	m.mu.Unlock()

	log := m.log.With().Str("session", logging.ShortID(id)).Str("model", m.model.Name()).Logger()
	log.Info().Str("photo", photo.Name).Msg("starting lawn analysis")

	start := time.Now()
	prompt, err := m.analysisPrompt(photo)
	var resp *ai.Response
	if err == nil {
		resp, err = m.model.GenerateContent(context.WithoutCancel(ctx), prompt)
	}
	elapsed := time.Since(start)

	var text string
	failed := err != nil
	if failed {
		text = AnalysisErrorPrefix + err.Error()
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("lawn analysis failed")
	} else {
		text = resp.Text()
		withUsage(log.Info(), resp.Usage).Int("chars", len(text)).Dur("elapsed", elapsed).Msg("lawn analysis completed")
	}

	var discarded []string
	m.mu.Lock()
	// The page may have been closed while the request was in flight.
	if current, ok := m.sessions[id]; ok && current == state {
		state.analysis = &text
		discarded, state.discarded = state.discarded, nil
		m.endLocked(state, models.OperationAnalyze)
		m.publishLocked(state, models.EventAnalysis, nil)
	}
	m.mu.Unlock()
	m.deletePhotos(discarded)

	return &models.AnalysisOutcome{
		SessionID:  id,
		Failed:     failed,
		Analysis:   &text,
		DurationMs: elapsed.Milliseconds(),
	}, nil
}

// RunAdHocTest sends a user supplied question to the model. The outcome is
// returned and pushed to subscribers but never touches the analysis result.
func (m *Manager) RunAdHocTest(ctx context.Context, id, question string) (*models.TestOutcome, error) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	state.lastAccessed = m.now()
	if err := m.beginLocked(state, models.OperationTest); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.publishLocked(state, models.EventState, nil)
	m.mu.Unlock()

	log := m.log.With().Str("session", logging.ShortID(id)).Logger()
	log.Info().Str("question", question).Msg("running API test")

	outcome := &models.TestOutcome{Question: question}
	resp, err := m.model.GenerateContent(ctx, ai.Prompt{Text: question})
	if err != nil {
		outcome.Error = err.Error()
		outcome.Message = TestErrorPrefix + err.Error()
		log.Error().Err(err).Msg("API test failed")
	} else {
		outcome.Text = resp.Text()
		outcome.Message = TestResponsePrefix + outcome.Text
		withUsage(log.Info(), resp.Usage).Str("response", outcome.Text).Msg("API test completed")
	}

	m.mu.Lock()
	if current, ok := m.sessions[id]; ok && current == state {
		m.endLocked(state, models.OperationTest)
		m.publishLocked(state, models.EventTest, outcome)
	}
	m.mu.Unlock()

	return outcome, nil
}

// SelfTest sends the diagnostic prompt once. Callers only log the result.
func (m *Manager) SelfTest(ctx context.Context) (string, error) {
	resp, err := m.model.GenerateContent(ctx, ai.Prompt{Text: m.cfg.SelfTestPrompt})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (m *Manager) runSelfTest(id string) {
	log := m.log.With().Str("session", logging.ShortID(id)).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("self-test panicked")
		}
	}()

	log.Debug().Msg("running self-test")
	text, err := m.SelfTest(m.ctx)
	if err != nil {
		log.Warn().Err(err).Msg("self-test failed")
		return
	}
	log.Info().Str("response", text).Msg("self-test succeeded")
}

func withUsage(e *zerolog.Event, u ai.Usage) *zerolog.Event {
	return e.Int32("promptTokens", u.PromptTokens).
		Int32("candidatesTokens", u.CandidatesTokens).
		Int32("totalTokens", u.TotalTokens)
}

// analysisPrompt builds the request for a photo. The image is attached only
// when configured.
func (m *Manager) analysisPrompt(photo models.Photo) (ai.Prompt, error) {
	prompt := ai.Prompt{Text: m.cfg.AnalysisPrompt}
	if !m.cfg.AttachPhoto {
		return prompt, nil
	}
	data, err := storage.ReadAll(m.store, photo.ID)
	if err != nil {
		return prompt, fmt.Errorf("reading photo: %w", err)
	}
	prompt.Image = &ai.Blob{MIMEType: photo.MIMEType, Data: data}
	return prompt, nil
}

func (m *Manager) beginLocked(state *pageState, op models.Operation) error {
	current := state.ops[op]
	if current.Loading {
		return fmt.Errorf("%w: %s", ErrOperationInFlight, op)
	}
	started := m.now()
	state.ops[op] = &models.OperationState{Loading: true, StartedAt: &started}
	return nil
}

func (m *Manager) endLocked(state *pageState, op models.Operation) {
	state.ops[op] = &models.OperationState{}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
