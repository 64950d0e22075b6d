package domain

import "context"

type Service interface {
	List(ctx context.Context, req ListNotificationRequest) ([]View, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id string) error
	Send(ctx context.Context, req SendRequest) (*View, error)
}

type ListNotificationRequest struct {
	IsRead *bool `form:"is_read"`
	Limit  int   `form:"limit"`
}

type SendRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Publisher fans a committed notification out to live connections.
type Publisher interface {
	Publish(n Notification)
}
