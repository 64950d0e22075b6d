package realtime

import (
	"encoding/json"

	notificationdomain "github.com/smallbiznis/storefront/internal/notification/domain"
)

const (
	FrameJoinGroup  = "join_group"
	FrameLeaveGroup = "leave_group"
	FramePing       = "ping"

	FrameReceiveNotification = "receive_notification"
	FrameAck                 = "ack"
	FrameError               = "error"
	FramePong                = "pong"
)

// Frame is the single JSON envelope used in both directions.
type Frame struct {
	Type         string                   `json:"type"`
	UserID       string                   `json:"user_id,omitempty"`
	Ref          string                   `json:"ref,omitempty"`
	Message      string                   `json:"message,omitempty"`
	Notification *notificationdomain.View `json:"notification,omitempty"`
}

func encodeFrame(f Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		// only reachable with an unencodable notification
		b, _ = json.Marshal(Frame{Type: FrameError, Message: "encode_failed"})
	}
	return b
}
