package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/smallbiznis/storefront/pkg/realtime/client"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func tailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream notifications as they arrive",
		RunE:  runTail,
	}
	cmd.Flags().Int("max-attempts", 0, "Give up after this many failed reconnects (0 retries forever)")
	return cmd
}

func runTail(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	user, err := s.whoami(ctx)
	if err != nil {
		return err
	}
	hub, err := s.hubURL()
	if err != nil {
		return err
	}
	maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

	out := cmd.OutOrStdout()
	closed := make(chan error, 1)
	m, err := client.New(client.Config{
		URL:         hub,
		UserID:      user.ID,
		Tokens:      s.client,
		Credentials: s.client.Store(),
		MaxAttempts: maxAttempts,
		Logger:      s.log,
		Refetcher: client.RefetchFunc(func(ctx context.Context) error {
			items, err := s.unread(ctx)
			if err != nil {
				return err
			}
			for _, n := range items {
				fmt.Fprintf(out, "[unread] %s  %s\n", n.Title, n.Message)
			}
			return nil
		}),
		Callbacks: client.Callbacks{
			OnStateChange: func(from, to client.State) {
				s.log.Info("connection state", zap.Stringer("from", from), zap.Stringer("to", to))
			},
			OnReconnecting: func(err error) {
				fmt.Fprintf(out, "connection lost, reconnecting: %v\n", err)
			},
			OnReconnected: func() {
				fmt.Fprintln(out, "reconnected")
			},
			OnClosed: func(err error) {
				closed <- err
			},
			OnNotification: func(n client.Notification) {
				fmt.Fprintf(out, "%s  %s  %s\n", n.CreatedAt.Local().Format(time.Kitchen), n.Title, n.Message)
			},
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "following notifications for %s\n", user.Email)
	// the loop outlives the signal so Logout can still leave the group
	if err := m.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Revoke first: the manager clears the same store on its way out.
		if err := s.client.Logout(logoutCtx); err != nil {
			s.log.Warn("server logout failed", zap.Error(err))
		}
		return m.Logout(logoutCtx)
	case err := <-closed:
		return err
	}
}
