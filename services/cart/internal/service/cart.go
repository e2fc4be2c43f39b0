package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/pkg/mykafka"
	"github.com/Skotchmaster/cart_recovery/pkg/session"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/cache"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/repo"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/transport"
)

// CartService is the cart state store. Writes for one session are serialized;
// the last one wins.
type CartService struct {
	Repo   *repo.GormRepo
	Cache  cache.CartCache
	Events mykafka.Publisher
	Now    func() time.Time

	locks sessionLocks
}

type CartEvent struct {
	Type      string            `json:"type"`
	CartID    uint              `json:"cart_id"`
	SessionID string            `json:"session_id"`
	Status    models.CartStatus `json:"status"`
	Total     decimal.Decimal   `json:"total"`
	ItemCount int               `json:"item_count"`
	At        time.Time         `json:"at"`
}

func (s *CartService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CartService) cache() cache.CartCache {
	if s.Cache == nil {
		return cache.Nop{}
	}
	return s.Cache
}

func checkSession(sess session.Context) error {
	if !session.Valid(sess.ID) {
		return &ValidationError{Reason: "malformed session id"}
	}
	return nil
}

// GetCart returns the open cart of the session, creating an empty active one
// on first access.
func (s *CartService) GetCart(ctx context.Context, sess session.Context) (*models.Cart, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}
	l := logging.FromContext(ctx)

	cart, err := s.cache().Get(ctx, sess.ID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn("cart_cache_get_failed", "error", err)
	}

	unlock := s.locks.lock(sess.ID)
	defer unlock()

	cart, err = s.Repo.ResolveCart(ctx, sess.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("resolve cart: %w", err)
	}
	if err := s.cache().Set(ctx, cart); err != nil {
		l.Warn("cart_cache_set_failed", "error", err)
	}
	return cart, nil
}

// MaxLineQuantity bounds one cart line after repeated products are merged.
const MaxLineQuantity = 999

// normalize drops non-positive quantities and merges repeated products,
// keeping first-seen order. A merged quantity above MaxLineQuantity is pinned
// to MaxLineQuantity+1 so the caller rejects it without overflowing.
func normalize(items []transport.ItemInput) []transport.ItemInput {
	out := make([]transport.ItemInput, 0, len(items))
	index := make(map[uint]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		if i, ok := index[it.ProductID]; ok {
			if it.Quantity > MaxLineQuantity-out[i].Quantity {
				out[i].Quantity = MaxLineQuantity + 1
			} else {
				out[i].Quantity += it.Quantity
			}
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

// CheckEmail rejects a recipient address that net/mail cannot parse. An empty
// address is allowed.
func CheckEmail(email string) error {
	if email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Reason: "invalid email"}
	}
	return nil
}

// ReplaceItems sets the cart contents of the session. Either every item is
// valid and applied with a recomputed total, or the call fails with a
// *ValidationError and nothing changes.
func (s *CartService) ReplaceItems(ctx context.Context, sess session.Context, items []transport.ItemInput) (*models.Cart, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(sess.ID)
	defer unlock()

	wanted := normalize(items)
	ids := make([]uint, 0, len(wanted))
	for _, it := range wanted {
		if it.Quantity > MaxLineQuantity {
			return nil, &ValidationError{ProductID: it.ProductID, Reason: fmt.Sprintf("quantity above %d", MaxLineQuantity)}
		}
		ids = append(ids, it.ProductID)
	}
	products, err := s.Repo.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}

	lines := make([]models.CartItem, 0, len(wanted))
	total := decimal.Zero
	for _, it := range wanted {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, &ValidationError{ProductID: it.ProductID, Reason: "unknown product"}
		}
		qty := uint(it.Quantity)
		lines = append(lines, models.CartItem{ProductID: p.ID, Quantity: qty, Price: p.Price})
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(qty))))
	}

	cart, err := s.Repo.ReplaceItems(ctx, sess.ID, lines, total, s.now())
	if err != nil {
		return nil, fmt.Errorf("replace items: %w", err)
	}

	s.invalidate(ctx, sess.ID)
	s.publish(ctx, "cart_updated", cart)
	return cart, nil
}

func (s *CartService) Clear(ctx context.Context, sess session.Context) (*models.Cart, error) {
	return s.ReplaceItems(ctx, sess, nil)
}

// AttachCustomer records who to contact about this cart. It does not count as
// cart activity.
func (s *CartService) AttachCustomer(ctx context.Context, sess session.Context, email, name string) (*models.Cart, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}
	if err := CheckEmail(email); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(sess.ID)
	defer unlock()

	cart, err := s.Repo.AttachCustomer(ctx, sess.ID, sess.CustomerID, email, name, s.now())
	if err != nil {
		return nil, fmt.Errorf("attach customer: %w", err)
	}
	s.invalidate(ctx, sess.ID)
	return cart, nil
}

func (s *CartService) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	p, err := s.Repo.GetProduct(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return p, err
}

// Invalidate drops the cached copy of a session's cart. The detector and the
// recovery flow call it after changing cart status. It waits for the session
// lock so a GetCart that read the row before the change cannot cache it after.
func (s *CartService) Invalidate(ctx context.Context, sessionID string) {
	unlock := s.locks.lock(sessionID)
	defer unlock()
	s.invalidate(ctx, sessionID)
}

func (s *CartService) invalidate(ctx context.Context, sessionID string) {
	if err := s.cache().Delete(ctx, sessionID); err != nil {
		logging.FromContext(ctx).Warn("cart_cache_delete_failed", "error", err)
	}
}

func (s *CartService) publish(ctx context.Context, typ string, cart *models.Cart) {
	if s.Events == nil {
		return
	}
	ev := CartEvent{
		Type:      typ,
		CartID:    cart.ID,
		SessionID: cart.SessionID,
		Status:    cart.Status,
		Total:     cart.Total,
		ItemCount: cart.ItemCount,
		At:        s.now(),
	}
	if err := s.Events.PublishEvent(ctx, mykafka.TopicCartEvents, cart.SessionID, ev); err != nil {
		logging.FromContext(ctx).Warn("cart_event_publish_failed", "type", typ, "error", err)
	}
}
