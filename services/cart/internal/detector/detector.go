// Package detector finds carts idle past the abandonment threshold, moves
// them to abandoned and drives the recovery outbox.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/pkg/mykafka"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/recovery"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/repo"
)

type Emitter interface {
	Emit(ctx context.Context, ev models.AbandonmentEvent) (*models.RecoveryAttempt, error)
	FollowUp(ctx context.Context, prev models.RecoveryAttempt) (*models.RecoveryAttempt, error)
}

// Store is the slice of the repository the detector drives.
type Store interface {
	IdleCarts(ctx context.Context, cutoff time.Time, limit int) ([]models.Cart, error)
	MarkAbandoned(ctx context.Context, cart models.Cart, cutoff, now time.Time) (*models.AbandonmentEvent, error)
	PendingEvents(ctx context.Context, maxAttempts, limit int) ([]models.AbandonmentEvent, error)
	RecordEmitFailure(ctx context.Context, id uint, cause string, maxAttempts int) (bool, error)
	FollowUpCandidates(ctx context.Context, before time.Time, limit int) ([]models.RecoveryAttempt, error)
}

type Detector struct {
	Repo    Store
	Emitter Emitter
	Carts   recovery.CartInvalidator
	Events  mykafka.Publisher

	Threshold     time.Duration
	Interval      time.Duration
	ErrorBackoff  time.Duration
	FollowUpAfter time.Duration
	Batch         int
	Concurrency   int
	MaxAttempts   int

	Now func() time.Time

	mu sync.Mutex
}

type PassResult struct {
	Scanned        int `json:"scanned"`
	Abandoned      int `json:"abandoned"`
	Conflicts      int `json:"conflicts"`
	Emitted        int `json:"emitted"`
	DeliveryFailed int `json:"delivery_failed"`
	Superseded     int `json:"superseded"`
	EmitFailed     int `json:"emit_failed"`
	Parked         int `json:"parked"`
	FollowUps      int `json:"follow_ups"`
}

type counters struct {
	abandoned, conflicts, emitted, deliveryFailed atomic.Int64
	superseded, emitFailed, parked, followUps     atomic.Int64
}

type CartAbandoned struct {
	Type      string    `json:"type"`
	CartID    uint      `json:"cart_id"`
	SessionID string    `json:"session_id"`
	Episode   uint      `json:"episode"`
	EventID   uint      `json:"event_id"`
	At        time.Time `json:"at"`
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Detector) batch() int {
	if d.Batch > 0 {
		return d.Batch
	}
	return 200
}

func (d *Detector) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return 3
}

func (d *Detector) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if d.Concurrency > 0 {
		g.SetLimit(d.Concurrency)
	} else {
		g.SetLimit(1)
	}
	return g, gctx
}

// Run executes a pass immediately and then every Interval until ctx is
// cancelled. A failed pass is followed by ErrorBackoff instead.
func (d *Detector) Run(ctx context.Context) error {
	log := logging.FromContext(ctx).With("component", "detector")
	ctx = logging.IntoContext(ctx, log)
	log.Info("detector_started", "interval", d.Interval.String(), "threshold", d.Threshold.String())

	for {
		wait := d.Interval
		if _, err := d.RunPass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("detector_pass_failed", "error", err)
			wait = d.ErrorBackoff
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info("detector_stopped")
			return nil
		case <-t.C:
		}
	}
}

// RunPass runs one transition, emit and follow-up pass. Concurrent callers
// are serialized.
func (d *Detector) RunPass(ctx context.Context) (PassResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		c    counters
		res  PassResult
		errs []error
	)
	now := d.now()

	scanned, err := d.transition(ctx, now, &c)
	res.Scanned = scanned
	if err != nil {
		errs = append(errs, err)
	}
	if err := d.emit(ctx, &c); err != nil {
		errs = append(errs, err)
	}
	if d.FollowUpAfter > 0 {
		if err := d.followUps(ctx, now, &c); err != nil {
			errs = append(errs, err)
		}
	}

	res.Abandoned = int(c.abandoned.Load())
	res.Conflicts = int(c.conflicts.Load())
	res.Emitted = int(c.emitted.Load())
	res.DeliveryFailed = int(c.deliveryFailed.Load())
	res.Superseded = int(c.superseded.Load())
	res.EmitFailed = int(c.emitFailed.Load())
	res.Parked = int(c.parked.Load())
	res.FollowUps = int(c.followUps.Load())

	logging.FromContext(ctx).Info("detector_pass",
		"scanned", res.Scanned,
		"abandoned", res.Abandoned,
		"conflicts", res.Conflicts,
		"emitted", res.Emitted,
		"emit_failed", res.EmitFailed,
		"parked", res.Parked,
		"follow_ups", res.FollowUps,
	)
	return res, errors.Join(errs...)
}

func (d *Detector) transition(ctx context.Context, now time.Time, c *counters) (int, error) {
	log := logging.FromContext(ctx)
	cutoff := now.Add(-d.Threshold)
	carts, err := d.Repo.IdleCarts(ctx, cutoff, d.batch())
	if err != nil {
		return 0, fmt.Errorf("scan idle carts: %w", err)
	}

	var failures atomic.Int64
	g, gctx := d.group(ctx)
	for _, cart := range carts {
		g.Go(func() error {
			ev, err := d.Repo.MarkAbandoned(gctx, cart, cutoff, now)
			if errors.Is(err, repo.ErrConcurrencyConflict) {
				c.conflicts.Add(1)
				log.Info("cart_abandon_conflict", "cart_id", cart.ID)
				return nil
			}
			if err != nil {
				failures.Add(1)
				log.Error("cart_abandon_failed", "cart_id", cart.ID, "error", err)
				return nil
			}
			c.abandoned.Add(1)
			if d.Carts != nil {
				d.Carts.Invalidate(gctx, cart.SessionID)
			}
			d.publish(gctx, ev, now)
			return nil
		})
	}
	_ = g.Wait()
	if n := failures.Load(); n > 0 {
		return len(carts), fmt.Errorf("%d carts failed to transition", n)
	}
	return len(carts), nil
}

func (d *Detector) emit(ctx context.Context, c *counters) error {
	log := logging.FromContext(ctx)
	events, err := d.Repo.PendingEvents(ctx, d.maxAttempts(), d.batch())
	if err != nil {
		return fmt.Errorf("load pending events: %w", err)
	}

	g, gctx := d.group(ctx)
	for _, ev := range events {
		g.Go(func() error {
			a, err := d.Emitter.Emit(gctx, ev)
			switch {
			case err == nil:
				c.emitted.Add(1)
				if a.DeliveryStatus == models.DeliveryFailed {
					c.deliveryFailed.Add(1)
				}
				return nil
			case errors.Is(err, recovery.ErrSuperseded):
				c.superseded.Add(1)
				return nil
			}

			c.emitFailed.Add(1)
			parked, ferr := d.Repo.RecordEmitFailure(gctx, ev.ID, err.Error(), d.maxAttempts())
			if ferr != nil {
				log.Error("emit_failure_record_failed", "event_id", ev.ID, "error", ferr)
				return nil
			}
			if parked {
				c.parked.Add(1)
				log.Error("abandonment_event_failed", "event_id", ev.ID, "cart_id", ev.CartID, "error", err)
				return nil
			}
			log.Warn("abandonment_emit_failed", "event_id", ev.ID, "cart_id", ev.CartID, "error", err)
			return nil
		})
	}
	return g.Wait()
}

func (d *Detector) followUps(ctx context.Context, now time.Time, c *counters) error {
	log := logging.FromContext(ctx)
	candidates, err := d.Repo.FollowUpCandidates(ctx, now.Add(-d.FollowUpAfter), d.batch())
	if err != nil {
		return fmt.Errorf("load follow-up candidates: %w", err)
	}

	g, gctx := d.group(ctx)
	for _, prev := range candidates {
		g.Go(func() error {
			if _, err := d.Emitter.FollowUp(gctx, prev); err != nil {
				if !errors.Is(err, recovery.ErrSuperseded) {
					log.Warn("follow_up_failed", "attempt_id", prev.ID, "error", err)
				}
				return nil
			}
			c.followUps.Add(1)
			return nil
		})
	}
	return g.Wait()
}

func (d *Detector) publish(ctx context.Context, ev *models.AbandonmentEvent, now time.Time) {
	if d.Events == nil {
		return
	}
	msg := CartAbandoned{
		Type:      "cart_abandoned",
		CartID:    ev.CartID,
		SessionID: ev.SessionID,
		Episode:   ev.Episode,
		EventID:   ev.ID,
		At:        now,
	}
	if err := d.Events.PublishEvent(ctx, mykafka.TopicCartEvents, ev.SessionID, msg); err != nil {
		logging.FromContext(ctx).Warn("cart_event_publish_failed", "type", msg.Type, "error", err)
	}
}
