// Package recovery turns abandonment events into recovery attempts: it picks
// the offer and channel, generates content, records the attempt and
// dispatches it. It also owns the open/click/recovered outcomes.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/pkg/mykafka"
	"github.com/Skotchmaster/cart_recovery/pkg/tokens"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/notify"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/repo"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/service"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/textgen"
)

var (
	// ErrSuperseded means the cart left the abandoned episode the event was
	// raised for; nothing is sent.
	ErrSuperseded = errors.New("abandonment superseded")
	// ErrUnreachable means no enabled channel can reach the cart's owner.
	ErrUnreachable = errors.New("no reachable channel")
)

const followUpPrefix = "Last chance: "

type Notifier interface {
	Send(ctx context.Context, ch models.Channel, m notify.Message) error
	Available(ch models.Channel) bool
}

type CartInvalidator interface {
	Invalidate(ctx context.Context, sessionID string)
}

type Service struct {
	Repo      *repo.GormRepo
	Generator textgen.Generator
	Notifier  Notifier
	Carts     CartInvalidator
	Events    mykafka.Publisher
	Policy    offer.Policy
	Channels  []models.Channel

	DeliveryTimeout time.Duration
	FollowUpStep    decimal.Decimal
	FollowUpCap     decimal.Decimal

	FrontendURL    string
	PublicBaseURL  string
	TrackingSecret []byte
	TrackingTTL    time.Duration

	Now func() time.Time
}

// RecoveryEvent is published to recovery_events on every attempt outcome.
type RecoveryEvent struct {
	Type      string                `json:"type"`
	AttemptID uint                  `json:"attempt_id"`
	CartID    uint                  `json:"cart_id"`
	SessionID string                `json:"session_id"`
	Episode   uint                  `json:"episode"`
	Sequence  int                   `json:"sequence"`
	Channel   models.Channel        `json:"channel"`
	Status    models.DeliveryStatus `json:"status"`
	At        time.Time             `json:"at"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Emit performs the first contact for one pending abandonment event.
func (s *Service) Emit(ctx context.Context, ev models.AbandonmentEvent) (*models.RecoveryAttempt, error) {
	cart, err := s.Repo.GetCartByID(ctx, ev.CartID)
	if err != nil {
		return nil, fmt.Errorf("load cart %d: %w", ev.CartID, err)
	}
	if cart.Status != models.CartAbandoned || cart.Episode != ev.Episode {
		return nil, s.supersede(ctx, ev)
	}
	n, err := s.Repo.CountAttempts(ctx, cart.ID, cart.Episode)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, s.supersede(ctx, ev)
	}

	promos, err := s.Repo.ActivePromotions(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("load promotions: %w", err)
	}
	o := offer.Select(s.Policy, cart.Total, cart.Categories(), service.ToOfferPromotions(promos))

	ch, recipient, ok := s.chooseChannel(cart)
	if !ok {
		return nil, ErrUnreachable
	}

	a := &models.RecoveryAttempt{
		CartID:    cart.ID,
		Episode:   cart.Episode,
		Sequence:  1,
		SessionID: cart.SessionID,
		Channel:   ch,
		Recipient: recipient,
	}
	setOffer(a, o)
	return s.deliver(ctx, cart, a, o, ev.ID, "")
}

// FollowUp sends the escalated second attempt after prev went unanswered.
func (s *Service) FollowUp(ctx context.Context, prev models.RecoveryAttempt) (*models.RecoveryAttempt, error) {
	cart, err := s.Repo.GetCartByID(ctx, prev.CartID)
	if err != nil {
		return nil, fmt.Errorf("load cart %d: %w", prev.CartID, err)
	}
	if cart.Status != models.CartAbandoned || cart.Episode != prev.Episode {
		return nil, ErrSuperseded
	}

	o := offer.Escalate(offerOf(prev), s.FollowUpStep, s.FollowUpCap)
	a := &models.RecoveryAttempt{
		CartID:    cart.ID,
		Episode:   cart.Episode,
		Sequence:  prev.Sequence + 1,
		SessionID: cart.SessionID,
		Channel:   prev.Channel,
		Recipient: prev.Recipient,
	}
	setOffer(a, o)
	return s.deliver(ctx, cart, a, o, 0, followUpPrefix)
}

// Retry re-dispatches a failed attempt, regenerating content it never got.
func (s *Service) Retry(ctx context.Context, attemptID uint) (*models.RecoveryAttempt, error) {
	a, err := s.Repo.GetAttempt(ctx, attemptID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("attempt %d: %w", attemptID, service.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if a.DeliveryStatus != models.DeliveryFailed {
		return nil, &service.ValidationError{Reason: fmt.Sprintf("attempt %d is %s, only failed attempts can be retried", a.ID, a.DeliveryStatus)}
	}
	cart, err := s.Repo.GetCartByID(ctx, a.CartID)
	if err != nil {
		return nil, fmt.Errorf("load cart %d: %w", a.CartID, err)
	}
	if cart.Status != models.CartAbandoned || cart.Episode != a.Episode {
		return nil, &service.ValidationError{Reason: fmt.Sprintf("cart %d is no longer abandoned", cart.ID)}
	}

	ctx, cancel := s.deliveryContext(ctx)
	defer cancel()

	o := offerOf(*a)
	if a.Subject == "" || a.Body == "" {
		prefix := ""
		if a.Sequence > 1 {
			prefix = followUpPrefix
		}
		c, err := s.Generator.Generate(ctx, promptFor(cart, o))
		if err != nil {
			return nil, fmt.Errorf("generate content: %w", err)
		}
		a.Subject = prefix + c.Subject
		a.Body = s.finalBody(c.Body, o, cart.ID)
	}
	s.dispatch(ctx, cart, a, o)
	if err := s.Repo.UpdateDelivery(context.WithoutCancel(ctx), a); err != nil {
		return nil, fmt.Errorf("update delivery: %w", err)
	}
	s.publish(ctx, "attempt_retried", a)
	return a, nil
}

// ManualEmit sends the first attempt for an abandoned cart on operator
// request. Episodes that already have an attempt are rejected.
func (s *Service) ManualEmit(ctx context.Context, cartID uint) (*models.RecoveryAttempt, error) {
	cart, err := s.Repo.GetCartByID(ctx, cartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("cart %d: %w", cartID, service.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if cart.Status != models.CartAbandoned {
		return nil, &service.ValidationError{Reason: fmt.Sprintf("cart %d is %s, not abandoned", cart.ID, cart.Status)}
	}
	n, err := s.Repo.CountAttempts(ctx, cart.ID, cart.Episode)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, &service.ValidationError{Reason: fmt.Sprintf("cart %d already has a recovery attempt", cart.ID)}
	}

	ev, err := s.Repo.EventFor(ctx, cart.ID, cart.Episode)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, &service.ValidationError{Reason: fmt.Sprintf("cart %d has no abandonment event", cart.ID)}
	}
	if ev.Status == models.EventFailed {
		if err := s.Repo.SetEventStatus(ctx, ev.ID, models.EventPending); err != nil {
			return nil, err
		}
		ev.Status = models.EventPending
	}
	if ev.Status != models.EventPending {
		return nil, &service.ValidationError{Reason: fmt.Sprintf("abandonment event %d is %s", ev.ID, ev.Status)}
	}
	a, err := s.Emit(ctx, *ev)
	if errors.Is(err, ErrUnreachable) {
		return nil, &service.ValidationError{Reason: "no reachable channel for this cart"}
	}
	return a, err
}

func (s *Service) supersede(ctx context.Context, ev models.AbandonmentEvent) error {
	if err := s.Repo.SupersedeEvent(ctx, ev.ID); err != nil {
		return fmt.Errorf("supersede event %d: %w", ev.ID, err)
	}
	return ErrSuperseded
}

func (s *Service) deliveryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.DeliveryTimeout > 0 {
		return context.WithTimeout(ctx, s.DeliveryTimeout)
	}
	return context.WithCancel(ctx)
}

// deliver generates content, records the attempt and dispatches it. The
// attempt row is written before anything is sent.
func (s *Service) deliver(ctx context.Context, cart *models.Cart, a *models.RecoveryAttempt, o offer.Offer, eventID uint, subjectPrefix string) (*models.RecoveryAttempt, error) {
	log := logging.FromContext(ctx)
	dctx, cancel := s.deliveryContext(ctx)
	defer cancel()

	c, genErr := s.Generator.Generate(dctx, promptFor(cart, o))
	a.CreatedAt = s.now()
	a.DeliveryStatus = models.DeliveryPending
	switch {
	case dctx.Err() != nil:
		a.DeliveryStatus = models.DeliveryFailed
		a.DeliveryError = "delivery timeout: " + dctx.Err().Error()
	case genErr != nil:
		a.DeliveryStatus = models.DeliveryFailed
		a.DeliveryError = "generate content: " + genErr.Error()
	default:
		a.Subject = subjectPrefix + c.Subject
		a.Body = s.finalBody(c.Body, o, cart.ID)
	}

	if err := s.Repo.RecordAttempt(ctx, a, eventID); err != nil {
		if errors.Is(err, repo.ErrConcurrencyConflict) {
			return nil, ErrSuperseded
		}
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	log.Info("recovery_attempt_recorded", "attempt_id", a.ID, "cart_id", cart.ID, "sequence", a.Sequence, "channel", a.Channel, "source", c.Source)

	if a.DeliveryStatus == models.DeliveryFailed {
		s.publish(ctx, "attempt_failed", a)
		return a, nil
	}

	s.dispatch(dctx, cart, a, o)
	if err := s.Repo.UpdateDelivery(ctx, a); err != nil {
		return nil, fmt.Errorf("update delivery: %w", err)
	}
	s.publish(ctx, "attempt_"+string(a.DeliveryStatus), a)
	return a, nil
}

// dispatch sends a and records the outcome on it. Failures stay on the
// attempt; they never touch the cart.
func (s *Service) dispatch(ctx context.Context, cart *models.Cart, a *models.RecoveryAttempt, o offer.Offer) {
	msg := notify.Message{
		AttemptID: a.ID,
		CartID:    cart.ID,
		SessionID: cart.SessionID,
		Recipient: a.Recipient,
		Subject:   a.Subject,
		Body:      a.Body,
		Offer:     o,
	}
	if token, err := tokens.NewTrackingToken(a.ID, s.TrackingTTL, s.now(), s.TrackingSecret); err == nil {
		base := strings.TrimRight(s.PublicBaseURL, "/")
		msg.ClickURL = base + "/r/c/" + token
		msg.PixelURL = base + "/r/o/" + token
	} else {
		logging.FromContext(ctx).Warn("tracking_token_failed", "attempt_id", a.ID, "error", err)
	}

	if err := s.Notifier.Send(ctx, a.Channel, msg); err != nil {
		logging.FromContext(ctx).Warn("recovery_dispatch_failed", "attempt_id", a.ID, "channel", a.Channel, "error", err)
		a.DeliveryStatus = models.DeliveryFailed
		a.DeliveryError = err.Error()
		return
	}
	sent := s.now()
	a.DeliveryStatus = models.DeliverySent
	a.DeliveryError = ""
	a.SentAt = &sent
}

func (s *Service) chooseChannel(cart *models.Cart) (models.Channel, string, bool) {
	for _, ch := range s.Channels {
		if s.Notifier == nil || !s.Notifier.Available(ch) {
			continue
		}
		switch ch {
		case models.ChannelEmail:
			if cart.CustomerEmail != "" {
				return ch, cart.CustomerEmail, true
			}
		case models.ChannelPopup, models.ChannelChat:
			return ch, cart.SessionID, true
		}
	}
	return "", "", false
}

func (s *Service) finalBody(body string, o offer.Offer, cartID uint) string {
	var b strings.Builder
	b.WriteString(body)
	if o.Description != "" {
		b.WriteString("\n\nSpecial Offer: ")
		b.WriteString(o.Description)
	}
	b.WriteString("\n\nComplete your purchase: " + s.CheckoutURL(cartID))
	return b.String()
}

func (s *Service) publish(ctx context.Context, typ string, a *models.RecoveryAttempt) {
	if s.Events == nil {
		return
	}
	ev := RecoveryEvent{
		Type:      typ,
		AttemptID: a.ID,
		CartID:    a.CartID,
		SessionID: a.SessionID,
		Episode:   a.Episode,
		Sequence:  a.Sequence,
		Channel:   a.Channel,
		Status:    a.DeliveryStatus,
		At:        s.now(),
	}
	if err := s.Events.PublishEvent(ctx, mykafka.TopicRecoveryEvents, a.SessionID, ev); err != nil {
		logging.FromContext(ctx).Warn("recovery_event_publish_failed", "type", typ, "error", err)
	}
}

func promptFor(cart *models.Cart, o offer.Offer) textgen.Prompt {
	p := textgen.Prompt{CustomerName: cart.CustomerName, CartValue: cart.Total, Offer: o}
	for _, it := range cart.Items {
		item := textgen.Item{Quantity: it.Quantity, Price: it.Price}
		if it.Product != nil {
			item.Name = it.Product.Name
		}
		p.Items = append(p.Items, item)
	}
	return p
}

func setOffer(a *models.RecoveryAttempt, o offer.Offer) {
	a.OfferType = string(o.Type)
	a.OfferValue = o.Value
	a.FreeShipping = o.FreeShipping
	a.OfferDescription = o.Description
	a.PromotionID = o.PromotionID
}

func offerOf(a models.RecoveryAttempt) offer.Offer {
	return offer.Offer{
		Type:         offer.Type(a.OfferType),
		Value:        a.OfferValue,
		FreeShipping: a.FreeShipping,
		Description:  a.OfferDescription,
		PromotionID:  a.PromotionID,
	}
}
