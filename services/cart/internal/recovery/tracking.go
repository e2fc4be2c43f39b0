package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/pkg/tokens"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/service"
)

func (s *Service) attemptID(token string) (uint, error) {
	claims, err := tokens.TrackingClaimsFromToken(token, s.TrackingSecret, s.now())
	if err != nil {
		return 0, &service.ValidationError{Reason: "invalid tracking token"}
	}
	return claims.AttemptID, nil
}

func notFound(id uint, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("attempt %d: %w", id, service.ErrNotFound)
	}
	return err
}

// MarkOpened records the open pixel. Repeats are no-ops.
func (s *Service) MarkOpened(ctx context.Context, token string) error {
	id, err := s.attemptID(token)
	if err != nil {
		return err
	}
	changed, err := s.Repo.MarkOpened(ctx, id, s.now())
	if err != nil {
		return notFound(id, err)
	}
	if changed {
		logging.FromContext(ctx).Info("recovery_opened", "attempt_id", id)
	}
	return nil
}

// MarkClicked records a click and returns the checkout URL to redirect to.
func (s *Service) MarkClicked(ctx context.Context, token string) (string, error) {
	id, err := s.attemptID(token)
	if err != nil {
		return "", err
	}
	changed, err := s.Repo.MarkClicked(ctx, id, s.now())
	if err != nil {
		return "", notFound(id, err)
	}
	a, err := s.Repo.GetAttempt(ctx, id)
	if err != nil {
		return "", notFound(id, err)
	}
	if changed {
		logging.FromContext(ctx).Info("recovery_clicked", "attempt_id", id)
	}
	return s.CheckoutURL(a.CartID), nil
}

// Accept marks the attempt recovered and moves its cart out of abandoned.
func (s *Service) Accept(ctx context.Context, token string) (*models.RecoveryAttempt, *models.Cart, error) {
	id, err := s.attemptID(token)
	if err != nil {
		return nil, nil, err
	}
	a, cart, err := s.Repo.MarkRecovered(ctx, id, s.now())
	if err != nil {
		return nil, nil, notFound(id, err)
	}
	if s.Carts != nil {
		s.Carts.Invalidate(ctx, cart.SessionID)
	}
	s.publish(ctx, "attempt_recovered", a)
	logging.FromContext(ctx).Info("recovery_accepted", "attempt_id", id, "cart_id", cart.ID, "cart_status", cart.Status)
	return a, cart, nil
}

func (s *Service) CheckoutURL(cartID uint) string {
	return fmt.Sprintf("%s/checkout/%d", strings.TrimRight(s.FrontendURL, "/"), cartID)
}
