package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yoockh/smartattend/internal/engine"
	"github.com/yoockh/smartattend/internal/utils"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadWait  = 60 * time.Second
)

// WSHandler streams session events to the kiosk UI and accepts a few
// lightweight commands back.
type WSHandler struct {
	sessions *engine.Manager
	events   engine.Subscriber
	upgrader websocket.Upgrader
}

func NewWSHandler(sessions *engine.Manager, events engine.Subscriber, allowedOrigins []string) *WSHandler {
	allow := map[string]struct{}{}
	for _, o := range allowedOrigins {
		allow[o] = struct{}{}
	}
	return &WSHandler{
		sessions: sessions,
		events:   events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allow) == 0 {
					return true
				}
				_, ok := allow[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

type wsClientMsg struct {
	Type      string `json:"type"` // ping|view|toggle
	StudentID string `json:"student_id"`
}

type wsServerMsg struct {
	Type    string       `json:"type"`
	Code    utils.Code   `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
	View    *engine.View `json:"view,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) writeErr(err error) error {
	msg := wsServerMsg{Type: "error", Code: utils.CodeOf(err), Message: err.Error()}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		msg.Message = ae.Message
	}
	return w.writeJSON(msg)
}

func (h *WSHandler) SessionWS(c *gin.Context) {
	const op = "WSHandler.SessionWS"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing session_id", nil))
		return
	}

	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.OperatorID() != userID {
		writeError(c, utils.E(utils.CodeForbidden, op, "forbidden", nil))
		return
	}

	events, cancel, err := h.events.Subscribe(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "failed to subscribe", err))
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}

	// current state first so the client never renders a blank screen
	v := sess.View()
	if err := wc.writeJSON(engine.Event{Type: engine.EventState, SessionID: sessionID, Step: v.Step, View: &v}); err != nil {
		return
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadWait))
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeJSON(wsServerMsg{Type: "error", Code: utils.CodeInvalidArgument, Message: "invalid json"})
				continue
			}

			switch msg.Type {
			case "ping":
				_ = wc.writeJSON(wsServerMsg{Type: "pong"})
			case "view":
				v := sess.View()
				_ = wc.writeJSON(wsServerMsg{Type: "view", View: &v})
			case "toggle":
				if _, err := sess.Toggle(msg.StudentID); err != nil {
					_ = wc.writeErr(err)
				}
			default:
				_ = wc.writeJSON(wsServerMsg{Type: "error", Code: utils.CodeInvalidArgument, Message: "unknown message type"})
			}
		}
	}()

	for {
		select {
		case <-readDone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wc.writeJSON(ev); err != nil {
				return
			}
		}
	}
}
