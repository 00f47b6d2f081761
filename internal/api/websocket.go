package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rawblock/wallet-investigator/internal/investigation"
	"github.com/rawblock/wallet-investigator/internal/session"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 4096

	frameInvestigate = "investigate"
	frameEnd         = "end"
	framePing        = "ping"
)

// clientFrame is a command sent by the websocket client
type clientFrame struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	Chain   string `json:"chain,omitempty"`
}

// wsTransport delivers session events as JSON text frames. Send is only
// ever called from the session's writer goroutine; control frames use
// WriteControl, which may run concurrently with it.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, ev session.Event) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteJSON(ev)
}

func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

func (h *APIHandler) upgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(h.cfg.Server.AllowedOrigins))
	for _, o := range h.cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// GET /api/v1/ws
// Opens an investigation session. The handler owns the read side of the
// connection for the session's lifetime.
func (h *APIHandler) handleSession(c *gin.Context) {
	if h.coordinator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sessions are not enabled"})
		return
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s, err := h.coordinator.Open(&wsTransport{conn: conn})
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		h.log.Warn().Err(err).Msg("Session rejected")
		return
	}
	defer func() {
		if err := h.coordinator.End(s.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			h.log.Debug().Err(err).Str("session", s.ID).Msg("Session end")
		}
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.coordinator.Touch(s.ID)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go keepAlive(conn, stop)

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("session", s.ID).Msg("Websocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.coordinator.Touch(s.ID)

		if done := h.dispatch(s.ID, frame); done {
			return
		}
	}
}

// dispatch acts on one client frame and reports whether the session is over
func (h *APIHandler) dispatch(sessionID string, frame clientFrame) bool {
	var err error
	switch strings.ToLower(frame.Type) {
	case frameInvestigate:
		if strings.TrimSpace(frame.Address) == "" {
			err = fmt.Errorf("investigate: %w: address is required", models.ErrUnrecognizedAddressFormat)
			break
		}
		err = h.coordinator.Investigate(sessionID, investigation.Request{
			Address: frame.Address,
			Chain:   models.ChainName(frame.Chain),
		})
	case frameEnd:
		return true
	case framePing:
		return false
	default:
		err = fmt.Errorf("unknown frame type %q", frame.Type)
	}

	if err == nil {
		return false
	}
	if errors.Is(err, session.ErrSessionNotFound) {
		return true
	}
	if rejectErr := h.coordinator.Reject(sessionID, err); rejectErr != nil {
		return true
	}
	return false
}

func keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
