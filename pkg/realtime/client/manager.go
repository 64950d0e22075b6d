// Package client keeps a browser-tab style connection to the notification
// hub alive. One goroutine owns the socket: it dials, joins the caller's
// group, catches up through the REST store after every reconnect and waits
// out the backoff schedule between attempts.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/smallbiznis/storefront/pkg/authclient"
	"go.uber.org/zap"
)

const (
	defaultDedupSize   = 512
	defaultReadTimeout = 60 * time.Second
	writeWait          = 10 * time.Second
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrMaxAttempts    = errors.New("max_reconnect_attempts")
	ErrAlreadyStarted = errors.New("already_started")
	ErrNotStarted     = errors.New("not_started")
)

// TokenSource supplies the access token for the handshake. Refresh is
// called once when the hub rejects the token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// Refetcher pulls missed notifications from the store after a connect.
type Refetcher interface {
	Fetch(ctx context.Context) error
}

type RefetchFunc func(ctx context.Context) error

func (f RefetchFunc) Fetch(ctx context.Context) error { return f(ctx) }

type Callbacks struct {
	OnStateChange  func(from, to State)
	OnReconnecting func(err error)
	OnReconnected  func()
	OnClosed       func(err error)
	OnNotification func(n Notification)
}

type Config struct {
	// URL is the websocket endpoint, e.g. ws://host/hub/notifications.
	URL    string
	UserID string

	Tokens      TokenSource
	Credentials authclient.CredentialStore
	Refetcher   Refetcher

	// BackOff builds the reconnect schedule. Defaults to DefaultSchedule.
	BackOff func() backoff.BackOff
	// MaxAttempts caps consecutive failed dials. Zero retries forever.
	MaxAttempts int
	ReadTimeout time.Duration
	DedupSize   int
	Dialer      *websocket.Dialer
	Logger      *zap.Logger

	Callbacks
}

type Manager struct {
	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer
	seen   *lru.Cache[string, struct{}]

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

func New(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("client: url is required")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("client: user id is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("client: token source is required")
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = defaultDedupSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.BackOff == nil {
		cfg.BackOff = func() backoff.BackOff { return NewScheduleBackOff() }
	}

	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Manager{
		cfg:    cfg,
		log:    log.Named("realtime.client"),
		dialer: dialer,
		seen:   seen,
		state:  StateDisconnected,
	}, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the connection loop. It returns immediately; progress is
// reported through the callbacks. A stopped manager may be started again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, m.done)
	return nil
}

// Stop ends the loop and closes the socket without touching credentials.
func (m *Manager) Stop(ctx context.Context) error {
	if err := m.stopLoop(ctx); err != nil {
		return err
	}
	m.closeConn()
	return nil
}

// Logout leaves the group, stops the loop, closes the socket and clears the
// stored credentials, in that order.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.write(frame{Type: frameLeaveGroup, UserID: m.cfg.UserID}); err != nil && !errors.Is(err, errNoConn) {
		m.log.Debug("leave group failed", zap.Error(err))
	}

	err := m.stopLoop(ctx)
	m.closeConn()
	if m.cfg.Credentials != nil {
		m.cfg.Credentials.Clear()
	}
	if errors.Is(err, ErrNotStarted) {
		return nil
	}
	return err
}

func (m *Manager) stopLoop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.release(done)

	b := m.cfg.BackOff()
	attempts := 0
	connectedOnce := false
	m.setState(StateConnecting)

	for {
		conn, err := m.dial(ctx)
		dialed := err == nil
		if dialed {
			b.Reset()
			attempts = 0
			err = m.connected(ctx, conn, connectedOnce)
			connectedOnce = true
			if err == nil {
				err = m.readLoop(ctx, conn)
			}
			m.dropConn(conn)
		}

		if ctx.Err() != nil {
			m.finish(nil)
			return
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			m.finish(permanent.Unwrap())
			return
		}

		// a dropped connection starts a fresh run of attempts
		if !dialed {
			attempts++
		}
		if m.cfg.MaxAttempts > 0 && attempts >= m.cfg.MaxAttempts {
			m.finish(fmt.Errorf("%w: %v", ErrMaxAttempts, err))
			return
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			m.finish(fmt.Errorf("%w: %v", ErrMaxAttempts, err))
			return
		}

		m.setState(StateReconnecting)
		if m.cfg.OnReconnecting != nil {
			m.cfg.OnReconnecting(err)
		}
		m.log.Debug("reconnecting", zap.Duration("delay", delay), zap.Int("attempt", attempts), zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.finish(nil)
			return
		case <-timer.C:
		}
	}
}

// release clears the loop handle so the manager can be started again.
func (m *Manager) release(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != done {
		return
	}
	m.cancel()
	m.cancel = nil
	m.done = nil
}

// dial opens the socket. A 401 handshake gets one token refresh; a second
// rejection, or a failed refresh, is permanent.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := m.cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrUnauthorized, err))
	}

	conn, unauthorized, err := m.dialWith(ctx, token)
	if !unauthorized {
		return conn, err
	}

	fresh, rerr := m.cfg.Tokens.Refresh(ctx, token)
	if rerr != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrUnauthorized, rerr))
	}
	conn, unauthorized, err = m.dialWith(ctx, fresh)
	if unauthorized {
		return nil, backoff.Permanent(ErrUnauthorized)
	}
	return conn, err
}

func (m *Manager) dialWith(ctx context.Context, token string) (*websocket.Conn, bool, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, resp != nil && resp.StatusCode == http.StatusUnauthorized, err
	}
	return conn, false, nil
}

func (m *Manager) connected(ctx context.Context, conn *websocket.Conn, reconnect bool) error {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := m.write(frame{Type: frameJoinGroup, UserID: m.cfg.UserID}); err != nil {
		return err
	}
	m.setState(StateConnected)

	if reconnect && m.cfg.OnReconnected != nil {
		m.cfg.OnReconnected()
	}
	if m.cfg.Refetcher != nil {
		if err := m.cfg.Refetcher.Fetch(ctx); err != nil {
			m.log.Warn("catch-up fetch failed", zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	timeout := m.cfg.ReadTimeout
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))

		var in frame
		if err := json.Unmarshal(data, &in); err != nil {
			m.log.Debug("unreadable frame", zap.Error(err))
			continue
		}
		switch in.Type {
		case frameReceiveNotification:
			m.deliver(in.Notification)
		case frameError:
			m.log.Debug("hub error frame", zap.String("ref", in.Ref), zap.String("message", in.Message))
		}
	}
}

func (m *Manager) deliver(n *Notification) {
	if n == nil || n.ID == "" {
		return
	}
	if seen, _ := m.seen.ContainsOrAdd(n.ID, struct{}{}); seen {
		return
	}
	if m.cfg.OnNotification != nil {
		m.cfg.OnNotification(*n)
	}
}

var errNoConn = errors.New("no_connection")

func (m *Manager) write(f frame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errNoConn
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (m *Manager) dropConn(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) finish(err error) {
	m.setState(StateDisconnected)
	if m.cfg.OnClosed != nil {
		m.cfg.OnClosed(err)
	}
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from != to && m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(from, to)
	}
}
