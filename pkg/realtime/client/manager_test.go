package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/smallbiznis/storefront/pkg/authclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

type fakeHub struct {
	upgrader    websocket.Upgrader
	unavailable atomic.Bool
	dials       atomic.Int32

	mu     sync.Mutex
	tokens map[string]bool

	frames chan frame
	conns  chan *websocket.Conn
}

func newFakeHub(t *testing.T, tokens ...string) (*fakeHub, string) {
	t.Helper()
	h := &fakeHub{
		tokens: map[string]bool{},
		frames: make(chan frame, 64),
		conns:  make(chan *websocket.Conn, 8),
	}
	for _, tok := range tokens {
		h.tokens[tok] = true
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.dials.Add(1)
		if h.unavailable.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		h.mu.Lock()
		ok := h.tokens[token]
		h.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- ws
		go func() {
			for {
				var f frame
				if err := ws.ReadJSON(&f); err != nil {
					return
				}
				h.frames <- f
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (h *fakeHub) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-h.conns:
		return ws
	case <-time.After(waitTimeout):
		t.Fatalf("no connection")
		return nil
	}
}

func (h *fakeHub) nextFrame(t *testing.T, want string) frame {
	t.Helper()
	select {
	case f := <-h.frames:
		if f.Type != want {
			t.Fatalf("frame = %q, want %q", f.Type, want)
		}
		return f
	case <-time.After(waitTimeout):
		t.Fatalf("no %s frame", want)
		return frame{}
	}
}

type stubTokens struct {
	token      string
	fresh      string
	refreshErr error
	refreshes  atomic.Int32
}

func (s *stubTokens) Token(context.Context) (string, error) { return s.token, nil }

func (s *stubTokens) Refresh(context.Context, string) (string, error) {
	s.refreshes.Add(1)
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	return s.fresh, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
	notes  []Notification
	closed chan error
}

func newRecorder() *recorder {
	return &recorder{closed: make(chan error, 1)}
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStateChange: func(_, to State) { r.add(to.String()) },
		OnReconnected: func() { r.add("reconnected") },
		OnClosed:      func(err error) { r.closed <- err },
		OnNotification: func(n Notification) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.notes = append(r.notes, n)
		},
	}
}

func immediate() backoff.BackOff { return NewScheduleBackOff(0) }

func newManager(t *testing.T, url string, tokens TokenSource, rec *recorder, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		URL:       url,
		UserID:    "42",
		Tokens:    tokens,
		BackOff:   immediate,
		Refetcher: RefetchFunc(func(context.Context) error { rec.add("fetch"); return nil }),
		Callbacks: rec.callbacks(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func TestScheduleBackOff(t *testing.T) {
	b := NewScheduleBackOff()
	got := []time.Duration{b.NextBackOff(), b.NextBackOff(), b.NextBackOff(), b.NextBackOff(), b.NextBackOff()}
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second, 30 * time.Second}, got)

	b.Reset()
	assert.Equal(t, time.Duration(0), b.NextBackOff())
}

func TestConnectJoinsGroupThenFetches(t *testing.T) {
	hub, url := newFakeHub(t, "tok")
	rec := newRecorder()
	m := newManager(t, url, &stubTokens{token: "tok"}, rec, nil)

	require.NoError(t, m.Start(context.Background()))
	hub.nextConn(t)
	join := hub.nextFrame(t, frameJoinGroup)
	assert.Equal(t, "42", join.UserID)

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, []string{"connecting", "connected", "fetch"}, rec.snapshot())
	assert.Equal(t, StateConnected, m.State())
}

func TestReconnectRejoinsThenNotifiesThenFetches(t *testing.T) {
	hub, url := newFakeHub(t, "tok")
	rec := newRecorder()
	m := newManager(t, url, &stubTokens{token: "tok"}, rec, nil)

	require.NoError(t, m.Start(context.Background()))
	first := hub.nextConn(t)
	hub.nextFrame(t, frameJoinGroup)

	_ = first.Close()
	hub.nextConn(t)
	hub.nextFrame(t, frameJoinGroup)

	want := []string{"connecting", "connected", "fetch", "reconnecting", "connected", "reconnected", "fetch"}
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == len(want) }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, want, rec.snapshot())
}

func TestDuplicateNotificationsDeliveredOnce(t *testing.T) {
	hub, url := newFakeHub(t, "tok")
	rec := newRecorder()
	m := newManager(t, url, &stubTokens{token: "tok"}, rec, nil)

	require.NoError(t, m.Start(context.Background()))
	ws := hub.nextConn(t)
	hub.nextFrame(t, frameJoinGroup)

	for _, id := range []string{"1", "1", "2"} {
		require.NoError(t, ws.WriteJSON(frame{
			Type:         frameReceiveNotification,
			Notification: &Notification{ID: id, Message: "order " + id},
		}))
	}

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.notes) == 2
	}, waitTimeout, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.notes, 2)
	assert.Equal(t, "1", rec.notes[0].ID)
	assert.Equal(t, "2", rec.notes[1].ID)
}

func TestUnauthorizedDialRefreshesOnce(t *testing.T) {
	hub, url := newFakeHub(t, "fresh")
	rec := newRecorder()
	tokens := &stubTokens{token: "stale", fresh: "fresh"}
	m := newManager(t, url, tokens, rec, nil)

	require.NoError(t, m.Start(context.Background()))
	hub.nextConn(t)
	hub.nextFrame(t, frameJoinGroup)

	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, int32(2), hub.dials.Load())
}

func TestFailedRefreshClosesWithoutRetry(t *testing.T) {
	hub, url := newFakeHub(t)
	rec := newRecorder()
	tokens := &stubTokens{token: "stale", refreshErr: authclient.ErrSessionExpired}
	m := newManager(t, url, tokens, rec, nil)

	require.NoError(t, m.Start(context.Background()))
	select {
	case err := <-rec.closed:
		assert.ErrorIs(t, err, ErrUnauthorized)
	case <-time.After(waitTimeout):
		t.Fatalf("manager did not close")
	}

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, int32(1), hub.dials.Load())
	assert.NotContains(t, rec.snapshot(), "reconnecting")
}

func TestMaxAttemptsGivesUp(t *testing.T) {
	hub, url := newFakeHub(t, "tok")
	hub.unavailable.Store(true)
	rec := newRecorder()
	m := newManager(t, url, &stubTokens{token: "tok"}, rec, func(c *Config) { c.MaxAttempts = 3 })

	require.NoError(t, m.Start(context.Background()))
	select {
	case err := <-rec.closed:
		assert.True(t, errors.Is(err, ErrMaxAttempts), "got %v", err)
	case <-time.After(waitTimeout):
		t.Fatalf("manager did not give up")
	}
	assert.Equal(t, int32(3), hub.dials.Load())
	assert.Equal(t, StateDisconnected, m.State())
}

type clearRecorder struct {
	authclient.CredentialStore
	m       **Manager
	cleared chan State
}

func (c *clearRecorder) Clear() {
	c.CredentialStore.Clear()
	c.cleared <- (*c.m).State()
}

func TestLogoutLeavesStopsThenClears(t *testing.T) {
	hub, url := newFakeHub(t, "tok")
	rec := newRecorder()
	var m *Manager
	store := &clearRecorder{
		CredentialStore: authclient.NewMemoryStore(&authclient.Credentials{AccessToken: "tok", RefreshToken: "r"}),
		m:               &m,
		cleared:         make(chan State, 1),
	}
	m = newManager(t, url, &stubTokens{token: "tok"}, rec, func(c *Config) { c.Credentials = store })

	require.NoError(t, m.Start(context.Background()))
	hub.nextConn(t)
	hub.nextFrame(t, frameJoinGroup)
	assert.Eventually(t, func() bool { return m.State() == StateConnected }, waitTimeout, 10*time.Millisecond)

	require.NoError(t, m.Logout(context.Background()))

	leave := hub.nextFrame(t, frameLeaveGroup)
	assert.Equal(t, "42", leave.UserID)
	assert.Equal(t, StateDisconnected, <-store.cleared)
	_, ok := store.Load()
	assert.False(t, ok)

	select {
	case err := <-rec.closed:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatalf("closed callback not called")
	}
}

func TestLogoutCancelsPendingBackoff(t *testing.T) {
	hub, url := newFakeHub(t, "tok")
	hub.unavailable.Store(true)
	rec := newRecorder()
	m := newManager(t, url, &stubTokens{token: "tok"}, rec, func(c *Config) {
		c.BackOff = func() backoff.BackOff { return NewScheduleBackOff(time.Hour) }
	})

	require.NoError(t, m.Start(context.Background()))
	assert.Eventually(t, func() bool { return m.State() == StateReconnecting }, waitTimeout, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Logout(ctx))
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, int32(1), hub.dials.Load())
}

func TestDroppedConnectionDoesNotSpendAttempts(t *testing.T) {
	hub, url := newFakeHub(t, "tok")
	rec := newRecorder()
	m := newManager(t, url, &stubTokens{token: "tok"}, rec, func(c *Config) { c.MaxAttempts = 1 })

	require.NoError(t, m.Start(context.Background()))
	for i := 0; i < 3; i++ {
		ws := hub.nextConn(t)
		hub.nextFrame(t, frameJoinGroup)
		_ = ws.Close()
	}
	hub.nextConn(t)
	hub.nextFrame(t, frameJoinGroup)

	select {
	case err := <-rec.closed:
		t.Fatalf("manager closed after a dropped connection: %v", err)
	default:
	}
	assert.Eventually(t, func() bool { return m.State() == StateConnected }, waitTimeout, 10*time.Millisecond)
}

func TestStartAfterStopReconnects(t *testing.T) {
	hub, url := newFakeHub(t, "tok")
	rec := newRecorder()
	m := newManager(t, url, &stubTokens{token: "tok"}, rec, nil)

	require.NoError(t, m.Start(context.Background()))
	hub.nextConn(t)
	hub.nextFrame(t, frameJoinGroup)
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, m.Stop(context.Background()))
	select {
	case err := <-rec.closed:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatalf("closed callback not called")
	}
	assert.Equal(t, StateDisconnected, m.State())

	require.NoError(t, m.Start(context.Background()))
	hub.nextConn(t)
	join := hub.nextFrame(t, frameJoinGroup)
	assert.Equal(t, "42", join.UserID)
	assert.Eventually(t, func() bool { return m.State() == StateConnected }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, int32(2), hub.dials.Load())
}

func TestStartAfterGivingUp(t *testing.T) {
	hub, url := newFakeHub(t, "tok")
	hub.unavailable.Store(true)
	rec := newRecorder()
	m := newManager(t, url, &stubTokens{token: "tok"}, rec, func(c *Config) { c.MaxAttempts = 1 })

	require.NoError(t, m.Start(context.Background()))
	select {
	case err := <-rec.closed:
		assert.ErrorIs(t, err, ErrMaxAttempts)
	case <-time.After(waitTimeout):
		t.Fatalf("manager did not give up")
	}

	hub.unavailable.Store(false)
	assert.Eventually(t, func() bool { return m.Start(context.Background()) == nil }, waitTimeout, 10*time.Millisecond)
	hub.nextConn(t)
	hub.nextFrame(t, frameJoinGroup)
}
