package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/pkg/mykafka"
	"github.com/Skotchmaster/cart_recovery/pkg/session"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/repo"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/transport"
)

// BehaviorService is the sink for client behavior events. An exit intent on
// a non-empty cart is answered with an interactive popup offer; nothing about
// the cart changes.
type BehaviorService struct {
	Repo   *repo.GormRepo
	Carts  *CartService
	Events mykafka.Publisher
	Policy offer.Policy
	Now    func() time.Time
}

type RecordResult struct {
	Event *models.BehaviorEvent
	Popup *offer.Offer
}

func (s *BehaviorService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *BehaviorService) Record(ctx context.Context, sess session.Context, req transport.EventRequest) (*RecordResult, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown event type %q", req.Type)}
	}

	ev := &models.BehaviorEvent{
		SessionID:  sess.ID,
		CustomerID: sess.CustomerID,
		Type:       req.Type,
		PageURL:    req.PageURL,
		ProductID:  req.ProductID,
		Metadata:   req.Metadata,
		OccurredAt: s.now(),
	}
	if err := s.Repo.SaveBehaviorEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("save behavior event: %w", err)
	}

	l := logging.FromContext(ctx)
	if s.Events != nil {
		if err := s.Events.PublishEvent(ctx, mykafka.TopicBehaviorEvents, sess.ID, ev); err != nil {
			l.Warn("behavior_event_publish_failed", "error", err)
		}
	}

	res := &RecordResult{Event: ev}
	if req.Type != models.EventExitIntent {
		return res, nil
	}

	cart, err := s.Carts.GetCart(ctx, sess)
	if err != nil {
		return nil, err
	}
	if cart.ItemCount == 0 {
		return res, nil
	}
	promos, err := s.Repo.ActivePromotions(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("load promotions: %w", err)
	}
	o := offer.Select(s.Policy, cart.Total, cart.Categories(), ToOfferPromotions(promos))
	res.Popup = &o
	return res, nil
}

func ToOfferPromotions(promos []models.Promotion) []offer.Promotion {
	out := make([]offer.Promotion, 0, len(promos))
	for _, p := range promos {
		out = append(out, offer.Promotion{
			ID:           p.ID,
			Priority:     p.Priority,
			Category:     p.Category,
			MinCartValue: p.MinCartValue,
			Type:         offer.Type(p.OfferType),
			Value:        p.OfferValue,
			FreeShipping: p.FreeShipping,
			Description:  p.Description,
		})
	}
	return out
}
