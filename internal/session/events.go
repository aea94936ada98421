package session

import (
	"github.com/lawn-analyzer/backend/internal/models"
)

// eventBuffer is the per-subscriber queue length. Slow subscribers miss
// events rather than blocking the manager.
const eventBuffer = 16

// Subscribe registers for state changes of a session. The channel is closed
// when the session closes or cancel is called.
func (m *Manager) Subscribe(id string) (<-chan models.Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, nil, ErrNotFound
	}

	ch := make(chan models.Event, eventBuffer)
	subID := state.nextSubID
	state.nextSubID++
	state.subscribers[subID] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := state.subscribers[subID]; ok {
			close(sub)
			delete(state.subscribers, subID)
		}
	}
	return ch, cancel, nil
}

// publishLocked sends an event to every subscriber. Callers hold m.mu.
func (m *Manager) publishLocked(state *pageState, typ models.EventType, test *models.TestOutcome) {
	if len(state.subscribers) == 0 {
		return
	}
	evt := models.Event{
		Type:      typ,
		SessionID: state.id,
		Test:      test,
		Timestamp: m.now().UnixMilli(),
	}
	if typ != models.EventClosed {
		evt.View = state.view()
	}
	for subID, ch := range state.subscribers {
		select {
		case ch <- evt:
		default:
			m.log.Warn().Int("subscriber", subID).Str("event", string(typ)).Msg("dropping event for slow subscriber")
		}
	}
}
