package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Type string

const (
	TypeOrder  Type = "order"
	TypeSystem Type = "system"
	TypePromo  Type = "promo"
)

func (t Type) Valid() bool {
	switch t {
	case TypeOrder, TypeSystem, TypePromo:
		return true
	default:
		return false
	}
}

// Display is the presentation metadata clients render for a type.
type Display struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

var displays = map[Type]Display{
	TypeOrder:  {Title: "Order Update", Category: "order"},
	TypePromo:  {Title: "Special Offer", Category: "promotion"},
	TypeSystem: {Title: "System Notification", Category: "system"},
}

// DisplayFor falls back to the system display for unknown types.
func DisplayFor(t Type) Display {
	if d, ok := displays[t]; ok {
		return d
	}
	return displays[TypeSystem]
}

type Notification struct {
	ID        snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID  `json:"user_id"`
	Message   string        `json:"message"`
	Type      Type          `json:"type"`
	OrderID   *snowflake.ID `json:"order_id,omitempty"`
	IsRead    bool          `json:"is_read"`
	CreatedAt time.Time     `json:"created_at"`
	ReadAt    *time.Time    `json:"read_at,omitempty"`
}

func (Notification) TableName() string { return "notifications" }

// View is the wire shape shared by the REST API and the hub.
type View struct {
	Notification
	Display
}

func (n Notification) View() View {
	return View{Notification: n, Display: DisplayFor(n.Type)}
}
