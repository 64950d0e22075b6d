package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusPaid,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

// Actor identifies who requests a status change.
type Actor string

const (
	ActorReconciler Actor = "reconciler"
	ActorAdmin      Actor = "admin"
	ActorSystem     Actor = "system"
)

type Order struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID          snowflake.ID    `json:"user_id"`
	Status          Status          `json:"status"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	ShippingAddress string          `json:"shipping_address"`
	IdempotencyKey  *string         `json:"-"`
	PaymentIntentID *string         `json:"payment_intent_id,omitempty"`
	Items           []Item          `json:"items,omitempty" gorm:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Item is a line snapshot taken at checkout. Items are never updated.
type Item struct {
	OrderID     snowflake.ID    `json:"-"`
	LineNo      int             `json:"-"`
	ProductID   snowflake.ID    `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (Item) TableName() string { return "order_items" }

func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Stats summarises the order book for the admin dashboard.
type Stats struct {
	TotalOrders int64            `json:"total_orders"`
	Counts      map[Status]int64 `json:"counts"`
	Revenue     decimal.Decimal  `json:"revenue"`
	Currency    string           `json:"currency"`
}
