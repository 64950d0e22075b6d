package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 15 * time.Second
	defaultReadTimeout  = 60 * time.Second
	writeTimeout        = 10 * time.Second
	maxFrameSize        = 4096
)

// Conn is one live client. Frames leave through a bounded buffer drained by
// a single writer goroutine.
type Conn struct {
	id     string
	userID snowflake.ID
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newConn(ws *websocket.Conn, principal usercontext.Principal, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 16
	}
	return &Conn{
		id:     ulid.Make().String(),
		userID: principal.UserID,
		ws:     ws,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() snowflake.ID { return c.userID }

// Enqueue never blocks. It reports false when the connection is closed or
// its buffer is full.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = c.ws.Close()
		}
	})
}

func (h *Hub) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(h.cfg.AllowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(h.cfg.AllowedOrigins))
		for _, origin := range h.cfg.AllowedOrigins {
			allowed[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
		}
		u.CheckOrigin = func(r *http.Request) bool {
			origin := strings.ToLower(strings.TrimSpace(r.Header.Get("Origin")))
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return u
}

// Serve upgrades the request for an authenticated principal and blocks until
// the connection ends. The caller must not write to w afterwards.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, principal usercontext.Principal) error {
	ws, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := newConn(ws, principal, h.cfg.SendBuffer)
	h.Connect(c)
	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *Conn) {
	defer func() {
		h.Disconnect(c)
		c.Close()
	}()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				h.log.Debug("connection read failed", zap.String("conn_id", c.ID()), zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		h.handleFrame(c, data)
	}
}

func (h *Hub) writePump(c *Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) handleFrame(c *Conn, data []byte) {
	var in Frame
	if err := json.Unmarshal(data, &in); err != nil {
		c.Enqueue(encodeFrame(Frame{Type: FrameError, Message: "invalid_frame"}))
		return
	}

	var err error
	switch in.Type {
	case FrameJoinGroup:
		err = h.JoinGroup(c, in.UserID)
	case FrameLeaveGroup:
		err = h.LeaveGroup(c, in.UserID)
	case FramePing:
		c.Enqueue(encodeFrame(Frame{Type: FramePong, Ref: in.Ref}))
		return
	default:
		c.Enqueue(encodeFrame(Frame{Type: FrameError, Ref: in.Ref, Message: "unknown_frame"}))
		return
	}

	if err != nil {
		if !errors.Is(err, ErrUnknownConn) {
			h.log.Warn("group request rejected",
				zap.String("conn_id", c.ID()),
				zap.String("frame", in.Type),
				zap.Error(err),
			)
		}
		c.Enqueue(encodeFrame(Frame{Type: FrameError, Ref: in.Ref, Message: err.Error()}))
		return
	}
	c.Enqueue(encodeFrame(Frame{Type: FrameAck, Ref: in.Ref, UserID: in.UserID}))
}
