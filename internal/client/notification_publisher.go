package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-sales-approvals/internal/platform/natsclient"
)

// Sales notification event types. The subject is notifications.sales.<event_type>.
const (
	EventApprovalRequested = "approval_requested"
	EventOrderApproved     = "order_approved"
)

const subjectPrefix = "notifications.sales."

// Publisher is the transport used to deliver encoded events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes sales approval events to NATS for
// consumption by the notifications service, which renders and sends the mail.
//
// Unlike the transition itself, delivery is best-effort: callers decide
// whether a returned error matters.
type NotificationPublisher struct {
	nats Publisher
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      int64                  `json:"actor_id"`
	Recipients   []Recipient            `json:"recipients"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Channel      string                 `json:"channel"`
	Subject      string                 `json:"subject,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Category     string                 `json:"category"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Recipient addresses one user.
type Recipient struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
// A nil client disables publishing.
func NewNotificationPublisher(nats *natsclient.Client, log zerolog.Logger) *NotificationPublisher {
	if nats == nil {
		return &NotificationPublisher{log: log}
	}
	return &NotificationPublisher{nats: nats, log: log}
}

// NewNotificationPublisherWith uses an arbitrary transport.
func NewNotificationPublisherWith(p Publisher, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: p, log: log}
}

// Publish sends event as e-mail notification for a sales order.
func (p *NotificationPublisher) Publish(ctx context.Context, event *NotificationEvent) error {
	if p.nats == nil {
		p.log.Debug().Str("event_type", event.EventType).Msg("notification: publishing disabled, dropping event")
		return nil
	}
	if len(event.Recipients) == 0 {
		return nil
	}

	if event.ResourceType == "" {
		event.ResourceType = "sales_order"
	}
	if event.Channel == "" {
		event.Channel = "email"
	}
	if event.Category == "" {
		event.Category = "sales_approval"
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling %s event: %w", event.EventType, err)
	}

	subject := subjectPrefix + event.EventType
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		return err
	}

	p.log.Debug().
		Str("subject", subject).
		Str("order_id", event.ResourceID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
	return nil
}
