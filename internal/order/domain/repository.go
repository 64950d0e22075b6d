package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ListFilter struct {
	UserID   *snowflake.ID
	Status   *Status
	BeforeID snowflake.ID
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, key string) (*Order, error)
	FindItems(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) (map[snowflake.ID][]Item, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Order, error)
	// FindStalePending returns pending orders created before cutoff that
	// never had a payment intent attached, oldest first.
	FindStalePending(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Order, error)
	// CompareAndSetStatus moves id from -> to only if the stored status is
	// still from. It returns the number of rows changed.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, at time.Time) (int64, error)
	SetPaymentIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string, at time.Time) (int64, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[Status]int64, error)
	SumTotals(ctx context.Context, db *gorm.DB, statuses []Status) (decimal.Decimal, error)
}
