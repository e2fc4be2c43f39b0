package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
)

type PopupPayload struct {
	AttemptID uint        `json:"attempt_id"`
	CartID    uint        `json:"cart_id"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	Offer     offer.Offer `json:"offer"`
	ClickURL  string      `json:"click_url"`
}

// Popup parks one message per session in Redis until the storefront
// collects it.
type Popup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPopup(client *redis.Client, ttl time.Duration) *Popup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Popup{client: client, ttl: ttl}
}

func popupKey(sessionID string) string {
	return fmt.Sprintf("popup:%s", sessionID)
}

func (p *Popup) Send(ctx context.Context, m Message) error {
	if m.SessionID == "" {
		return ErrNoRecipient
	}
	data, err := json.Marshal(PopupPayload{
		AttemptID: m.AttemptID,
		CartID:    m.CartID,
		Subject:   m.Subject,
		Body:      m.Body,
		Offer:     m.Offer,
		ClickURL:  m.ClickURL,
	})
	if err != nil {
		return fmt.Errorf("encode popup: %w", err)
	}
	if err := p.client.Set(ctx, popupKey(m.SessionID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrTransient, err)
	}
	return nil
}

// Take returns and removes the pending popup, or nil when there is none.
func (p *Popup) Take(ctx context.Context, sessionID string) (*PopupPayload, error) {
	raw, err := p.client.GetDel(ctx, popupKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	var out PopupPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode popup: %w", err)
	}
	return &out, nil
}
