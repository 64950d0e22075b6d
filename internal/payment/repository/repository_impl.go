package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	verb, suffix := "INSERT INTO", " ON CONFLICT (provider, provider_event_id) DO NOTHING"
	if db.Dialector != nil && db.Dialector.Name() == "mysql" {
		verb, suffix = "INSERT IGNORE INTO", ""
	}

	result := db.WithContext(ctx).Exec(
		verb+` payment_events (
			id, provider, provider_event_id, event_type, order_id, outcome, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`+suffix,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.OrderID,
		event.Outcome,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var event domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, order_id, outcome, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?`,
		provider,
		providerEventID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, orderID *snowflake.ID, outcome domain.Outcome, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET order_id = ?, outcome = ?, processed_at = ?
		 WHERE id = ?`,
		orderID,
		string(outcome),
		at,
		id,
	).Error
}
