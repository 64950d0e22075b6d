package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"
)

func TestClassifyWebhookFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("apply: %w", context.DeadlineExceeded), want: WebhookFailureDeadlineExceeded},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: WebhookFailureSerializationFailure},
		{name: "unique", err: gorm.ErrDuplicatedKey, want: WebhookFailureUniqueViolation},
		{name: "admin_shutdown", err: &pgconn.PgError{Code: "57P01"}, want: WebhookFailureDBUnavailable},
		{name: "unknown", err: errors.New("boom"), want: WebhookFailureUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyWebhookFailure(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestHubGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewHubMetrics(registry, Config{ServiceName: "storefront", Environment: "test"})

	m.SetConnections(3)
	m.SetGroups(2)
	m.IncFramesDropped()

	var out dto.Metric
	if err := m.connections.Write(&out); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := out.GetGauge().GetValue(); got != 3 {
		t.Fatalf("expected 3 connections, got %v", got)
	}
	if got := testutil.ToFloat64(m.groups); got != 2 {
		t.Fatalf("expected 2 groups, got %v", got)
	}
	if got := testutil.ToFloat64(m.framesDropped); got != 1 {
		t.Fatalf("expected 1 dropped frame, got %v", got)
	}
}

func TestWebhookFailureLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewHubMetrics(registry, Config{})

	m.IncWebhookFailure("stripe", &pgconn.PgError{Code: "40P01"})

	got := testutil.ToFloat64(m.webhookFailures.WithLabelValues("stripe", WebhookFailureSerializationFailure))
	if got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}
