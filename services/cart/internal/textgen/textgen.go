// Package textgen produces the subject and body of recovery messages. The AI
// generator is treated as fallible; WithFallback always yields content.
package textgen

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
)

var ErrUnavailable = errors.New("text generator unavailable")

const DefaultCustomerName = "Valued Customer"

type Item struct {
	Name     string
	Quantity uint
	Price    decimal.Decimal
}

type Prompt struct {
	CustomerName string
	Items        []Item
	CartValue    decimal.Decimal
	Offer        offer.Offer
}

type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

type Content struct {
	Subject string
	Body    string
	Source  Source
}

func (c Content) Empty() bool {
	return c.Subject == "" && c.Body == ""
}

type Generator interface {
	Generate(ctx context.Context, p Prompt) (Content, error)
}

func (p Prompt) name() string {
	if strings.TrimSpace(p.CustomerName) == "" {
		return DefaultCustomerName
	}
	return p.CustomerName
}

// itemList joins item names as "Laptop, Headphones".
func (p Prompt) itemList(empty string) string {
	names := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		if it.Name != "" {
			names = append(names, it.Name)
		}
	}
	if len(names) == 0 {
		return empty
	}
	return strings.Join(names, ", ")
}

type resilient struct {
	primary  Generator
	fallback Generator
	timeout  time.Duration
}

// WithFallback bounds primary by timeout and substitutes fallback content on
// any error.
func WithFallback(primary Generator, timeout time.Duration) Generator {
	return &resilient{primary: primary, fallback: Fallback{}, timeout: timeout}
}

func (r *resilient) Generate(ctx context.Context, p Prompt) (Content, error) {
	if r.primary != nil {
		genCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			genCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		c, err := r.primary.Generate(genCtx, p)
		if err == nil && c.Subject != "" && c.Body != "" {
			c.Source = SourceAI
			return c, nil
		}
		logging.FromContext(ctx).Warn("textgen_fallback", "error", err)
	}
	return r.fallback.Generate(ctx, p)
}
