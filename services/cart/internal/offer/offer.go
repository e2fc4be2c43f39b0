// Package offer maps a cart's value and contents to a recovery incentive.
// Everything here is pure: no I/O, no clock, deterministic for its inputs.
package offer

import (
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypePercentage   Type = "percentage"
	TypeFreeShipping Type = "free_shipping"
)

type Offer struct {
	Type         Type            `json:"type"`
	Value        decimal.Decimal `json:"value"`
	FreeShipping bool            `json:"free_shipping"`
	Description  string          `json:"description"`
	PromotionID  *uint           `json:"promotion_id,omitempty"`
}

// Tier applies to cart totals greater than or equal to MinTotal.
type Tier struct {
	MinTotal     decimal.Decimal
	Type         Type
	Value        decimal.Decimal
	FreeShipping bool
}

type Policy struct {
	Tiers []Tier
}

// Promotion is an active rule. An empty Category matches any cart.
type Promotion struct {
	ID           uint
	Priority     int
	Category     string
	MinCartValue decimal.Decimal
	Type         Type
	Value        decimal.Decimal
	FreeShipping bool
	Description  string
}

func DefaultPolicy() Policy {
	return NewPolicy(decimal.NewFromInt(200), decimal.NewFromInt(15), decimal.NewFromInt(100), decimal.NewFromInt(10))
}

// NewPolicy builds the three-tier table: a percentage discount at or above
// high, a smaller percentage plus free shipping at or above mid, free
// shipping below that.
func NewPolicy(high, highPct, mid, midPct decimal.Decimal) Policy {
	return Policy{Tiers: []Tier{
		{MinTotal: high, Type: TypePercentage, Value: highPct},
		{MinTotal: mid, Type: TypePercentage, Value: midPct, FreeShipping: true},
		{MinTotal: decimal.Zero, Type: TypeFreeShipping, Value: decimal.Zero, FreeShipping: true},
	}}
}

func (p Policy) Validate() error {
	if len(p.Tiers) == 0 {
		return fmt.Errorf("offer policy has no tiers")
	}
	for i, t := range p.Tiers {
		if t.MinTotal.IsNegative() || t.Value.IsNegative() {
			return fmt.Errorf("offer tier %d: negative values", i)
		}
		switch t.Type {
		case TypePercentage:
			if t.Value.GreaterThan(decimal.NewFromInt(100)) {
				return fmt.Errorf("offer tier %d: percentage above 100", i)
			}
		case TypeFreeShipping:
		default:
			return fmt.Errorf("offer tier %d: unknown type %q", i, t.Type)
		}
	}
	return nil
}

// sorted returns the tiers ordered by MinTotal descending.
func (p Policy) sorted() []Tier {
	tiers := slices.Clone(p.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinTotal.GreaterThan(tiers[j].MinTotal)
	})
	return tiers
}

// Select returns the incentive for a cart. The highest priority matching
// promotion wins over the tier table. Tier lower bounds are inclusive.
func Select(p Policy, total decimal.Decimal, categories []string, promos []Promotion) Offer {
	if pr, ok := bestPromotion(total, categories, promos); ok {
		o := Offer{Type: pr.Type, Value: pr.Value, FreeShipping: pr.FreeShipping, Description: pr.Description}
		if o.Description == "" {
			o.Description = describe(o)
		}
		id := pr.ID
		o.PromotionID = &id
		return o
	}

	for _, t := range p.sorted() {
		if total.GreaterThanOrEqual(t.MinTotal) {
			o := Offer{Type: t.Type, Value: t.Value, FreeShipping: t.FreeShipping}
			o.Description = describe(o)
			return o
		}
	}

	o := Offer{Type: TypeFreeShipping, Value: decimal.Zero, FreeShipping: true}
	o.Description = describe(o)
	return o
}

func bestPromotion(total decimal.Decimal, categories []string, promos []Promotion) (Promotion, bool) {
	var (
		best  Promotion
		found bool
	)
	for _, pr := range promos {
		if total.LessThan(pr.MinCartValue) {
			continue
		}
		if pr.Category != "" && !slices.Contains(categories, pr.Category) {
			continue
		}
		if !found || pr.Priority > best.Priority || (pr.Priority == best.Priority && pr.ID < best.ID) {
			best, found = pr, true
		}
	}
	return best, found
}

// Escalate sweetens a previous offer for a follow-up: percentage offers gain
// step points up to limit, a free shipping offer becomes step percent with
// free shipping kept.
func Escalate(prev Offer, step, limit decimal.Decimal) Offer {
	next := Offer{Type: TypePercentage, FreeShipping: prev.FreeShipping}
	if prev.Type == TypePercentage {
		next.Value = prev.Value.Add(step)
	} else {
		next.Value = step
	}
	if next.Value.GreaterThan(limit) {
		next.Value = limit
	}
	next.Description = describe(next)
	return next
}

func describe(o Offer) string {
	switch {
	case o.Type == TypePercentage && o.FreeShipping:
		return fmt.Sprintf("%s%% off your order plus free shipping", o.Value.String())
	case o.Type == TypePercentage:
		return fmt.Sprintf("%s%% off your order", o.Value.String())
	default:
		return "Free shipping on your order"
	}
}
