package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/storefront/pkg/authclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type session struct {
	client *authclient.Client
	base   string
	log    *zap.Logger
}

type me struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type notification struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Title     string `json:"title"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

func openSession(cmd *cobra.Command) (*session, error) {
	base, _ := cmd.Flags().GetString("server")
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	debug, _ := cmd.Flags().GetBool("debug")
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, errors.New("--email and --password are required")
	}

	log := zap.NewNop()
	if debug {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		log = l
	}

	client := authclient.New(base, authclient.NewMemoryStore(nil), authclient.WithLogger(log))
	if err := client.Login(cmd.Context(), email, password); err != nil {
		return nil, err
	}
	return &session{client: client, base: client.BaseURL(), log: log}, nil
}

func (s *session) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Data, out)
}

func (s *session) whoami(ctx context.Context) (*me, error) {
	var user me
	if err := s.getJSON(ctx, "/auth/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *session) unread(ctx context.Context) ([]notification, error) {
	var out []notification
	err := s.getJSON(ctx, "/api/notifications?is_read=false", &out)
	return out, err
}

// hubURL maps the HTTP base URL onto the websocket endpoint.
func (s *session) hubURL() (string, error) {
	u, err := url.Parse(s.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/hub/notifications"
	return u.String(), nil
}
