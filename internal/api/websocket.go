package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lawn-analyzer/backend/internal/logging"
	"github.com/lawn-analyzer/backend/internal/models"
	"github.com/rs/zerolog"
)

// WebSocket message types for the page event stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypePong      = "pong"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocketHandler pushes page session events to the browser
type WebSocketHandler struct {
	sessionMgr SessionManager
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocket event handler
func NewWebSocketHandler(sessionMgr SessionManager, log zerolog.Logger) EventHandler {
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		log: log.With().Str("component", "websocket").Logger(),
	}
}

// HandleEvents upgrades the connection and forwards session events until the
// session closes or the client goes away
func (wsh *WebSocketHandler) HandleEvents(c echo.Context) error {
	id := c.Param("id")
	view, err := wsh.sessionMgr.Get(id)
	if err != nil {
		return sessionError(err, id)
	}

	events, cancel, err := wsh.sessionMgr.Subscribe(id)
	if err != nil {
		return sessionError(err, id)
	}
	defer cancel()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	log := wsh.log.With().Str("session", logging.ShortID(id)).Logger()
	log.Debug().Msg("client connected")

	// Send welcome message with the current view
	if err := wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeConnected,
		ID:        id,
		Payload:   mustJSON(withPreviewURL(view)),
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return nil
	}

	pongs := make(chan struct{}, 1)
	done := make(chan struct{})
	go wsh.readLoop(ws, id, pongs, done, log)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return nil
			}
			if evt.View != nil {
				// Views are shared between subscribers.
				v := *evt.View
				evt.View = withPreviewURL(&v)
			}
			if err := wsh.sendMessage(ws, eventMessage(evt)); err != nil {
				return nil
			}
		case <-pongs:
			if err := wsh.sendMessage(ws, WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		case <-done:
			log.Debug().Msg("client disconnected")
			return nil
		}
	}
}

// readLoop handles client messages. It is the only reader of ws.
func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, id string, pongs chan<- struct{}, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)

	ws.SetReadLimit(4 * 1024)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("connection error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))

		switch msg.Type {
		case MsgTypePing:
			// Respond with pong to keep connection alive
			wsh.sessionMgr.Touch(id)
			select {
			case pongs <- struct{}{}:
			default:
			}
		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring unknown message type")
		}
	}
}

// Helper methods

func (wsh *WebSocketHandler) sendMessage(ws *websocket.Conn, msg WSMessage) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.WriteJSON(msg); err != nil {
		wsh.log.Debug().Err(err).Str("type", msg.Type).Msg("failed to send message")
		return err
	}
	return nil
}

func eventMessage(evt models.Event) WSMessage {
	return WSMessage{
		Type:      string(evt.Type),
		ID:        evt.SessionID,
		Payload:   mustJSON(evt),
		Timestamp: evt.Timestamp,
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
