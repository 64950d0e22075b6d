package domain

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (*Order, error)
	GetByID(ctx context.Context, id string) (*Order, error)
	ListMine(ctx context.Context, req ListOrderRequest) (*ListOrderResponse, error)
	ListAll(ctx context.Context, req ListOrderRequest) (*ListOrderResponse, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*Order, error)
	Stats(ctx context.Context) (*Stats, error)

	// Load reads an order through tx. It returns ErrNotFound when absent.
	Load(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Order, error)
	// ApplyTransition moves order to target inside tx on behalf of actor.
	// The caller commits tx and then calls Committed on the result.
	ApplyTransition(ctx context.Context, tx *gorm.DB, order Order, target Status, actor Actor) (*Transition, error)
	AttachPaymentIntent(ctx context.Context, orderID snowflake.ID, intentID string) error
	// ExpireStalePending cancels up to limit unpaid orders created before
	// cutoff and returns how many were cancelled.
	ExpireStalePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// StatusTrigger observes status changes inside the transaction that made
// them. The returned hook, if any, runs once the transaction commits.
type StatusTrigger interface {
	OrderStatusChanged(ctx context.Context, tx *gorm.DB, order Order, from Status) (func(), error)
}

type Transition struct {
	Order Order
	From  Status

	once  sync.Once
	hooks []func()
}

func NewTransition(order Order, from Status, hooks ...func()) *Transition {
	return &Transition{Order: order, From: from, hooks: hooks}
}

// Committed runs the post-commit hooks. Later calls are no-ops.
func (t *Transition) Committed() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		for _, hook := range t.hooks {
			if hook != nil {
				hook()
			}
		}
	})
}

type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items           []ItemRequest `json:"items"`
	ShippingAddress string        `json:"shipping_address"`
	IdempotencyKey  string        `json:"-"`
}

type ListOrderRequest struct {
	Status string `form:"status"`
	pagination.Pagination
}

type ListOrderResponse struct {
	Orders   []Order             `json:"orders"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type UpdateStatusRequest struct {
	OrderID string `json:"-"`
	Status  string `json:"status"`
}
