package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	valid        atomic.Value // string
	rejectAll    bool
	refreshOK    bool
	unauthorized atomic.Int32
	refreshes    atomic.Int32
	waitFor      int32
	bodies       chan string
}

func newTokenServer(t *testing.T, ts *tokenServer) *httptest.Server {
	t.Helper()
	ts.valid.Store("access-2")
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		ts.refreshes.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for ts.unauthorized.Load() < ts.waitFor && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !ts.refreshOK || body["refreshToken"] != "refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Credentials{AccessToken: "access-2", RefreshToken: "refresh-2"})
	})
	mux.HandleFunc("/api/orders", func(w http.ResponseWriter, r *http.Request) {
		if ts.bodies != nil {
			b, _ := io.ReadAll(r.Body)
			ts.bodies <- string(b)
		}
		if ts.rejectAll || r.Header.Get("Authorization") != "Bearer "+ts.valid.Load().(string) {
			ts.unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func staleStore() *MemoryStore {
	return NewMemoryStore(&Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"})
}

func TestConcurrentUnauthorizedRequestsShareOneRefresh(t *testing.T) {
	const callers = 8
	ts := &tokenServer{refreshOK: true, waitFor: callers}
	srv := newTokenServer(t, ts)
	store := staleStore()
	client := New(srv.URL, store)

	var wg sync.WaitGroup
	codes := make([]int, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/orders", nil)
			resp, err := client.Do(req)
			errs[i] = err
			if err == nil {
				codes[i] = resp.StatusCode
				_ = resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, codes[i])
	}
	assert.Equal(t, int32(1), ts.refreshes.Load())
	creds, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "refresh-2", creds.RefreshToken)
}

func TestFailedRefreshExpiresEveryWaiter(t *testing.T) {
	const callers = 5
	ts := &tokenServer{refreshOK: false, waitFor: callers}
	srv := newTokenServer(t, ts)
	store := staleStore()
	client := New(srv.URL, store)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/orders", nil)
			_, errs[i] = client.Do(req)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrSessionExpired), "got %v", err)
	}
	assert.Equal(t, int32(1), ts.refreshes.Load())
	_, ok := store.Load()
	assert.False(t, ok)
}

func TestRetryReplaysBody(t *testing.T) {
	ts := &tokenServer{refreshOK: true, bodies: make(chan string, 2)}
	srv := newTokenServer(t, ts)
	client := New(srv.URL, staleStore())

	// No GetBody: the client must buffer the stream itself.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/orders", io.NopCloser(strings.NewReader(`{"items":[]}`)))
	require.NoError(t, err)
	req.GetBody = nil

	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, `{"items":[]}`, <-ts.bodies)
	assert.Equal(t, `{"items":[]}`, <-ts.bodies)
}

func TestRetriesAtMostOnce(t *testing.T) {
	ts := &tokenServer{refreshOK: true, rejectAll: true}
	srv := newTokenServer(t, ts)
	client := New(srv.URL, staleStore())

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/orders", nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), ts.unauthorized.Load())
	assert.Equal(t, int32(1), ts.refreshes.Load())
}

func TestRefreshSkippedWhenTokenAlreadyRotated(t *testing.T) {
	ts := &tokenServer{refreshOK: true}
	srv := newTokenServer(t, ts)
	client := New(srv.URL, NewMemoryStore(&Credentials{AccessToken: "access-9", RefreshToken: "refresh-9"}))

	token, err := client.Refresh(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, "access-9", token)
	assert.Equal(t, int32(0), ts.refreshes.Load())
}

func TestMissingRefreshTokenIsExpired(t *testing.T) {
	ts := &tokenServer{refreshOK: true}
	srv := newTokenServer(t, ts)
	client := New(srv.URL, NewMemoryStore(nil))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/orders", nil)
	_, err := client.Do(req)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), ts.refreshes.Load())
}
