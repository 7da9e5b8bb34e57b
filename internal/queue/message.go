package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is a payload the publisher accepts.
type Message interface {
	Validate() error
	messageID() string
	correlationID() string
}

// SendMessage asks a worker to attempt delivery of a notification.
// ScheduledAt is set on retries and is informational.
type SendMessage struct {
	NotificationID string     `json:"notificationId"`
	CorrelationID  string     `json:"correlationId,omitempty"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
}

func (m SendMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	return nil
}

func (m SendMessage) messageID() string     { return m.NotificationID }
func (m SendMessage) correlationID() string { return m.CorrelationID }

// DeadLetterMessage records that a notification will not be delivered.
type DeadLetterMessage struct {
	NotificationID string `json:"notificationId"`
	CorrelationID  string `json:"correlationId,omitempty"`
	Reason         string `json:"reason"`
}

func (m DeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if strings.TrimSpace(m.Reason) == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}

func (m DeadLetterMessage) messageID() string     { return m.NotificationID }
func (m DeadLetterMessage) correlationID() string { return m.CorrelationID }

// DecodeSendMessage parses a delivery body. It does not validate the result.
func DecodeSendMessage(body []byte) (SendMessage, error) {
	var msg SendMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return SendMessage{}, fmt.Errorf("failed to decode send message: %w", err)
	}
	return msg, nil
}
