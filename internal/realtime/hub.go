// Package realtime pushes notifications to live WebSocket connections
// grouped by user id.
package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/config"
	notificationdomain "github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrForbiddenGroup = errors.New("forbidden_group")
	ErrInvalidGroup   = errors.New("invalid_group")
	ErrUnknownConn    = errors.New("unknown_connection")
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Registry   GroupRegistry       `optional:"true"`
	HubMetrics *metrics.HubMetrics `optional:"true"`
}

// Hub holds no queue of its own. Each connection owns a bounded buffer and
// a slow connection only loses its own frames.
type Hub struct {
	log      *zap.Logger
	cfg      config.HubConfig
	registry GroupRegistry
	metrics  *metrics.HubMetrics

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub(p Params) *Hub {
	registry := p.Registry
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	return &Hub{
		log:      p.Log.Named("realtime.hub"),
		cfg:      withDefaults(p.Cfg.Hub),
		registry: registry,
		metrics:  p.HubMetrics,
		conns:    make(map[string]*Conn),
	}
}

func (h *Hub) Connect(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()

	h.metrics.SetConnections(n)
	h.log.Debug("connection opened",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", c.UserID().String()),
	)
}

// Disconnect forgets c and drops it from every group. Peers are not told.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	_, known := h.conns[c.ID()]
	delete(h.conns, c.ID())
	n := len(h.conns)
	h.mu.Unlock()
	if !known {
		return
	}

	groups := h.registry.RemoveMember(c.ID())
	h.metrics.SetConnections(n)
	h.metrics.SetGroups(h.registry.Groups())
	h.log.Debug("connection closed",
		zap.String("conn_id", c.ID()),
		zap.Strings("groups", groups),
	)
}

// JoinGroup adds c to its own user's group. A connection may only join
// the group of the user it authenticated as.
func (h *Hub) JoinGroup(c *Conn, userID string) error {
	group, err := h.groupFor(c, userID)
	if err != nil {
		return err
	}
	h.registry.Add(group, c)
	h.metrics.SetGroups(h.registry.Groups())
	return nil
}

func (h *Hub) LeaveGroup(c *Conn, userID string) error {
	group, err := h.groupFor(c, userID)
	if err != nil {
		return err
	}
	h.registry.Remove(group, c.ID())
	h.metrics.SetGroups(h.registry.Groups())
	return nil
}

// SendToGroup pushes n to every connection in the user's group and returns
// how many accepted it. An empty group is not an error.
func (h *Hub) SendToGroup(ctx context.Context, userID snowflake.ID, n notificationdomain.View) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	frame := encodeFrame(Frame{Type: FrameReceiveNotification, Notification: &n})
	delivered := 0
	h.registry.Range(userID.String(), func(m Member) {
		if m.Enqueue(frame) {
			delivered++
			return
		}
		h.metrics.IncFramesDropped()
		h.log.Warn("connection buffer full, frame dropped",
			zap.String("conn_id", m.ID()),
			zap.String("user_id", userID.String()),
		)
	})
	return delivered, nil
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) groupFor(c *Conn, userID string) (string, error) {
	h.mu.RLock()
	_, known := h.conns[c.ID()]
	h.mu.RUnlock()
	if !known {
		return "", ErrUnknownConn
	}

	id, err := snowflake.ParseString(strings.TrimSpace(userID))
	if err != nil || id == 0 {
		return "", ErrInvalidGroup
	}
	if id != c.UserID() {
		return "", ErrForbiddenGroup
	}
	return id.String(), nil
}

func withDefaults(cfg config.HubConfig) config.HubConfig {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return cfg
}
