// Package notify delivers recovery messages over email, on-site popup and
// chat. Senders classify failures; the Dispatcher retries transient ones.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
)

var (
	ErrTransient          = errors.New("transient delivery failure")
	ErrNoRecipient        = errors.New("no recipient")
	ErrChannelUnavailable = errors.New("channel not configured")
)

type Message struct {
	AttemptID uint
	CartID    uint
	SessionID string
	Recipient string
	Subject   string
	Body      string
	Offer     offer.Offer
	ClickURL  string
	PixelURL  string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

type SenderFunc func(ctx context.Context, m Message) error

func (f SenderFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

type Dispatcher struct {
	senders     map[models.Channel]Sender
	maxAttempts int
	backoff     time.Duration
}

func NewDispatcher(maxAttempts int, backoff time.Duration) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{senders: map[models.Channel]Sender{}, maxAttempts: maxAttempts, backoff: backoff}
}

func (d *Dispatcher) Register(ch models.Channel, s Sender) *Dispatcher {
	d.senders[ch] = s
	return d
}

func (d *Dispatcher) Available(ch models.Channel) bool {
	_, ok := d.senders[ch]
	return ok
}

// Send tries up to maxAttempts times, doubling the backoff after each
// transient failure. Any other error stops immediately.
func (d *Dispatcher) Send(ctx context.Context, ch models.Channel, m Message) error {
	s, ok := d.senders[ch]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, ch)
	}
	log := logging.FromContext(ctx)

	wait := d.backoff
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = s.Send(ctx, m)
		if err == nil || !errors.Is(err, ErrTransient) {
			return err
		}
		log.Warn("dispatch_retry", "channel", ch, "attempt", attempt, "attempt_id", m.AttemptID, "error", err)
		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", err, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("after %d attempts: %w", d.maxAttempts, err)
}
