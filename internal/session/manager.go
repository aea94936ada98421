// Package session keeps the state of every open Lawn Analyzer page: the
// selected photo, the analysis result and the in-flight operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lawn-analyzer/backend/internal/ai"
	"github.com/lawn-analyzer/backend/internal/logging"
	"github.com/lawn-analyzer/backend/internal/models"
	"github.com/lawn-analyzer/backend/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultMaxSessions limits open pages to bound memory held by photos.
const DefaultMaxSessions = 100

var (
	// ErrNotFound is returned for unknown or closed sessions.
	ErrNotFound = errors.New("session not found")
	// ErrOperationInFlight is returned when the same operation is already
	// running for the session.
	ErrOperationInFlight = errors.New("operation already in flight")
)

// Config holds the prompts and limits used by a Manager.
type Config struct {
	AnalysisPrompt string
	SelfTestPrompt string
	AttachPhoto    bool
	SelfTestOnOpen bool
	MaxSessions    int
}

// Manager handles open page sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*pageState
	store    storage.Store
	model    ai.Model
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time

	// ctx bounds background self-tests and is cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// pageState holds the component-local state of one page.
type pageState struct {
	id           string
	photo        *models.Photo
	analysis     *string
	ops          map[models.Operation]*models.OperationState
	createdAt    time.Time
	lastAccessed time.Time
	subscribers  map[int]chan models.Event
	nextSubID    int
	// discarded holds replaced photos still readable by an in-flight analysis.
	discarded []string
}

// NewManager creates a session manager generating content with model.
func NewManager(store storage.Store, model ai.Model, cfg Config, log zerolog.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions: make(map[string]*pageState),
		store:    store,
		model:    model,
		cfg:      cfg,
		log:      log.With().Str("component", "session").Logger(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Open creates a session for a freshly loaded page. When configured, a
// diagnostic self-test runs in the background; its outcome is only logged.
func (m *Manager) Open() (*models.PageView, error) {
	m.evictIfFull()

	now := m.now()
	state := &pageState{
		id: uuid.New().String(),
		ops: map[models.Operation]*models.OperationState{
			models.OperationAnalyze: {},
			models.OperationTest:    {},
		},
		createdAt:    now,
		lastAccessed: now,
		subscribers:  make(map[int]chan models.Event),
	}

	m.mu.Lock()
	m.sessions[state.id] = state
	view := state.view()
	m.mu.Unlock()

	m.log.Info().Str("session", logging.ShortID(state.id)).Msg("page session opened")

	if m.cfg.SelfTestOnOpen {
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			m.runSelfTest(state.id)
		}()
	}

	return view, nil
}

// Get returns the current view of a session and marks it as used.
func (m *Manager) Get(id string) (*models.PageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	state.lastAccessed = m.now()
	return state.view(), nil
}

// Touch marks a session as used so idle cleanup keeps it.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.lastAccessed = m.now()
	return true
}

// SelectFile replaces the selected photo of a session. Any earlier photo is
// discarded. There is no validation of type or size.
func (m *Manager) SelectFile(id, name, mimeType string, r io.Reader) (*models.PageView, error) {
	if !m.Touch(id) {
		return nil, ErrNotFound
	}

	photo, err := m.store.Save(name, mimeType, r)
	if err != nil {
		return nil, fmt.Errorf("saving photo: %w", err)
	}

	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		m.deletePhoto(photo.ID)
		return nil, ErrNotFound
	}
	previous := state.photo
	state.photo = photo
	if previous != nil && state.ops[models.OperationAnalyze].Loading {
		state.discarded = append(state.discarded, previous.ID)
		previous = nil
	}
	view := state.view()
	m.publishLocked(state, models.EventState, nil)
	m.mu.Unlock()

	if previous != nil {
		m.deletePhoto(previous.ID)
	}

	m.log.Info().
		Str("session", logging.ShortID(id)).
		Str("name", photo.Name).
		Str("mimeType", photo.MIMEType).
		Int64("size", photo.Size).
		Msg("photo selected")

	return view, nil
}

// Photo returns the selected photo metadata and a reader over its bytes.
func (m *Manager) Photo(id string) (*models.Photo, io.ReadCloser, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	var photoID string
	if ok && state.photo != nil {
		photoID = state.photo.ID
	}
	m.mu.RUnlock()

	if !ok {
		return nil, nil, ErrNotFound
	}
	if photoID == "" {
		return nil, nil, fmt.Errorf("%w: no photo selected", storage.ErrNotFound)
	}

	stored, err := m.store.Get(photoID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := m.store.Open(stored.ID)
	if err != nil {
		return nil, nil, err
	}
	p := *stored
	return &p, rc, nil
}

// Close discards a session and its photo.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.removeLocked(state)
	photos := state.photoIDs()
	m.mu.Unlock()

	m.deletePhotos(photos)
	m.log.Info().Str("session", logging.ShortID(id)).Msg("page session closed")
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupIdleSessions removes sessions not used within maxAge. Sessions with
// an operation in flight are kept.
func (m *Manager) CleanupIdleSessions(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var removed []*pageState
	var photos []string
	for _, state := range m.sessions {
		if state.busy() || !state.lastAccessed.Before(cutoff) {
			continue
		}
		m.removeLocked(state)
		removed = append(removed, state)
		photos = append(photos, state.photoIDs()...)
	}
	m.mu.Unlock()

	m.deletePhotos(photos)
	for _, state := range removed {
		m.log.Info().
			Str("session", logging.ShortID(state.id)).
			Dur("idle", m.now().Sub(state.lastAccessed).Round(time.Second)).
			Msg("cleaned up idle session")
	}
	return len(removed)
}

// Wait blocks until background self-tests have finished.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// Shutdown cancels background self-tests and waits for them to return, or for
// ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// evictIfFull drops the least recently used idle sessions so a new one fits.
func (m *Manager) evictIfFull() {
	m.mu.Lock()
	if len(m.sessions) < m.cfg.MaxSessions {
		m.mu.Unlock()
		return
	}

	candidates := make([]*pageState, 0, len(m.sessions))
	for _, state := range m.sessions {
		if !state.busy() {
			candidates = append(candidates, state)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
	})

	toFree := len(m.sessions) - m.cfg.MaxSessions + 1
	var evicted []*pageState
	var photos []string
	for _, state := range candidates {
		if len(evicted) >= toFree {
			break
		}
		m.removeLocked(state)
		evicted = append(evicted, state)
		photos = append(photos, state.photoIDs()...)
	}
	m.mu.Unlock()

	m.deletePhotos(photos)
	for _, state := range evicted {
		m.log.Warn().Str("session", logging.ShortID(state.id)).Msg("evicted least recently used session")
	}
}

func (m *Manager) removeLocked(state *pageState) {
	m.publishLocked(state, models.EventClosed, nil)
	for subID, ch := range state.subscribers {
		close(ch)
		delete(state.subscribers, subID)
	}
	delete(m.sessions, state.id)
}

func (m *Manager) deletePhoto(photoID string) {
	if err := m.store.Delete(photoID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.log.Warn().Err(err).Str("photo", photoID).Msg("failed to delete photo")
	}
}

func (m *Manager) deletePhotos(ids []string) {
	for _, id := range ids {
		m.deletePhoto(id)
	}
}

// photoIDs returns every stored photo owned by the session.
func (s *pageState) photoIDs() []string {
	ids := append([]string(nil), s.discarded...)
	if s.photo != nil {
		ids = append(ids, s.photo.ID)
	}
	return ids
}

func (s *pageState) busy() bool {
	for _, op := range s.ops {
		if op.Loading {
			return true
		}
	}
	return false
}

// view copies the state so callers never share memory with the manager.
func (s *pageState) view() *models.PageView {
	v := &models.PageView{
		ID:         s.id,
		Operations: make(map[models.Operation]models.OperationState, len(s.ops)),
		CreatedAt:  s.createdAt,
	}
	if s.photo != nil {
		p := *s.photo
		v.Photo = &p
	}
	if s.analysis != nil {
		a := *s.analysis
		v.Analysis = &a
	}
	for name, op := range s.ops {
		v.Operations[name] = *op
	}
	v.Loading = s.ops[models.OperationAnalyze].Loading
	v.AnalyzeEnabled = s.photo != nil && !v.Loading
	return v
}
