package client

import (
	"encoding/json"
	"time"
)

const (
	frameJoinGroup           = "join_group"
	frameLeaveGroup          = "leave_group"
	framePing                = "ping"
	frameReceiveNotification = "receive_notification"
	frameError               = "error"
)

// Notification is the payload pushed by the hub.
type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	OrderID   json.RawMessage `json:"order_id,omitempty"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
	Title     string          `json:"title"`
	Category  string          `json:"category"`
}

type frame struct {
	Type         string        `json:"type"`
	UserID       string        `json:"user_id,omitempty"`
	Ref          string        `json:"ref,omitempty"`
	Message      string        `json:"message,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}
