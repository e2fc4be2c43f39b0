package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Skotchmaster/cart_recovery/pkg/mykafka"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
)

type ChatMessage struct {
	AttemptID uint        `json:"attempt_id"`
	CartID    uint        `json:"cart_id"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Offer     offer.Offer `json:"offer"`
	ClickURL  string      `json:"click_url"`
	SentAt    time.Time   `json:"sent_at"`
}

// Chat hands messages to the chat relay through Kafka.
type Chat struct {
	pub mykafka.Publisher
	now func() time.Time
}

func NewChat(pub mykafka.Publisher) *Chat {
	return &Chat{pub: pub, now: time.Now}
}

func (c *Chat) Send(ctx context.Context, m Message) error {
	if m.SessionID == "" {
		return ErrNoRecipient
	}
	err := c.pub.PublishEvent(ctx, mykafka.TopicChatOutbound, m.SessionID, ChatMessage{
		AttemptID: m.AttemptID,
		CartID:    m.CartID,
		SessionID: m.SessionID,
		Text:      m.Body,
		Offer:     m.Offer,
		ClickURL:  m.ClickURL,
		SentAt:    c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}
