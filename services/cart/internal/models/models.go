package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CartStatus string

const (
	CartActive    CartStatus = "active"
	CartAbandoned CartStatus = "abandoned"
	CartRecovered CartStatus = "recovered"
	CartCompleted CartStatus = "completed"
)

type Product struct {
	ID          uint            `gorm:"primaryKey"                 json:"id"`
	Name        string          `gorm:"not null"                   json:"name"`
	Description string          `                                  json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Stock       uint            `gorm:"not null;default:0"         json:"stock"`
	Category    string          `gorm:"index"                      json:"category"`
	ImageURL    string          `                                  json:"image_url"`
	CreatedAt   time.Time       `                                  json:"created_at"`
}

// Cart is keyed by session. A session owns at most one non-completed cart;
// completed carts stay as history.
type Cart struct {
	ID            uint            `gorm:"primaryKey"                   json:"id"`
	SessionID     string          `gorm:"index;size:128;not null"      json:"session_id"`
	CustomerID    string          `gorm:"size:64"                      json:"customer_id,omitempty"`
	CustomerEmail string          `                                    json:"customer_email,omitempty"`
	CustomerName  string          `                                    json:"customer_name,omitempty"`
	Status        CartStatus      `gorm:"index;size:16;not null"       json:"status"`
	Total         decimal.Decimal `gorm:"type:decimal(12,2);not null"  json:"total"`
	ItemCount     int             `gorm:"not null;default:0"           json:"item_count"`
	Version       int64           `gorm:"not null;default:0"           json:"version"`
	Episode       uint            `gorm:"not null;default:0"           json:"episode"`
	CreatedAt     time.Time       `gorm:"autoCreateTime:false"         json:"created_at"`
	UpdatedAt     time.Time       `gorm:"index;autoUpdateTime:false"   json:"updated_at"`
	AbandonedAt   *time.Time      `                                    json:"abandoned_at,omitempty"`
	RecoveredAt   *time.Time      `                                    json:"recovered_at,omitempty"`
	CompletedAt   *time.Time      `                                    json:"completed_at,omitempty"`
	Items         []CartItem      `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items"`
}

type CartItem struct {
	ID        uint            `gorm:"primaryKey"                               json:"id"`
	CartID    uint            `gorm:"uniqueIndex:idx_cart_product;not null"    json:"cart_id"`
	ProductID uint            `gorm:"uniqueIndex:idx_cart_product;not null"    json:"product_id"`
	Position  int             `gorm:"not null"                                 json:"position"`
	Quantity  uint            `gorm:"not null;check:quantity>0"                json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"              json:"price"`
	Product   *Product        `gorm:"foreignKey:ProductID"                     json:"product,omitempty"`
}

func (CartItem) TableName() string {
	return "cart_items"
}

// Categories returns the distinct product categories of preloaded items.
func (c *Cart) Categories() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Product == nil || it.Product.Category == "" {
			continue
		}
		if _, ok := seen[it.Product.Category]; ok {
			continue
		}
		seen[it.Product.Category] = struct{}{}
		out = append(out, it.Product.Category)
	}
	return out
}

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventEmitted    EventStatus = "emitted"
	EventFailed     EventStatus = "failed"
	EventSuperseded EventStatus = "superseded"
)

// AbandonmentEvent is written in the same transaction as the active to
// abandoned transition and is consumed by the recovery step.
type AbandonmentEvent struct {
	ID          uint        `gorm:"primaryKey"                          json:"id"`
	CartID      uint        `gorm:"uniqueIndex:idx_event_cart_episode"   json:"cart_id"`
	Episode     uint        `gorm:"uniqueIndex:idx_event_cart_episode"   json:"episode"`
	SessionID   string      `gorm:"size:128;not null"                   json:"session_id"`
	Status      EventStatus `gorm:"index;size:16;not null"              json:"status"`
	Attempts    int         `gorm:"not null;default:0"                  json:"attempts"`
	LastError   string      `                                           json:"last_error,omitempty"`
	AbandonedAt time.Time   `                                           json:"abandoned_at"`
	UpdatedAt   time.Time   `                                           json:"updated_at"`
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPopup Channel = "popup"
	ChannelChat  Channel = "chat"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// RecoveryAttempt is one outreach for an abandonment episode. Sequence 1 is
// the first contact, 2 the follow-up. Opened, Clicked and Recovered only move
// from false to true.
type RecoveryAttempt struct {
	ID               uint            `gorm:"primaryKey"                                  json:"id"`
	CartID           uint            `gorm:"uniqueIndex:idx_attempt_cart_episode_seq"    json:"cart_id"`
	Episode          uint            `gorm:"uniqueIndex:idx_attempt_cart_episode_seq"    json:"episode"`
	Sequence         int             `gorm:"uniqueIndex:idx_attempt_cart_episode_seq"    json:"sequence"`
	SessionID        string          `gorm:"size:128;not null"                          json:"session_id"`
	Channel          Channel         `gorm:"size:16;not null"                           json:"channel"`
	Recipient        string          `                                                  json:"recipient"`
	Subject          string          `                                                  json:"subject"`
	Body             string          `gorm:"type:text"                                  json:"body"`
	OfferType        string          `gorm:"size:32"                                    json:"offer_type"`
	OfferValue       decimal.Decimal `gorm:"type:decimal(5,2);not null"                 json:"offer_value"`
	FreeShipping     bool            `gorm:"not null;default:false"                     json:"free_shipping"`
	OfferDescription string          `                                                  json:"offer_description"`
	PromotionID      *uint           `                                                  json:"promotion_id,omitempty"`
	DeliveryStatus   DeliveryStatus  `gorm:"index;size:16;not null"                     json:"delivery_status"`
	DeliveryError    string          `                                                  json:"delivery_error,omitempty"`
	Opened           bool            `gorm:"not null;default:false"                     json:"opened"`
	Clicked          bool            `gorm:"not null;default:false"                     json:"clicked"`
	Recovered        bool            `gorm:"not null;default:false"                     json:"recovered"`
	CreatedAt        time.Time       `                                                  json:"created_at"`
	SentAt           *time.Time      `                                                  json:"sent_at,omitempty"`
	OpenedAt         *time.Time      `                                                  json:"opened_at,omitempty"`
	ClickedAt        *time.Time      `                                                  json:"clicked_at,omitempty"`
	RecoveredAt      *time.Time      `                                                  json:"recovered_at,omitempty"`
}

type EventType string

const (
	EventPageView       EventType = "page_view"
	EventProductView    EventType = "product_view"
	EventCartAdd        EventType = "cart_add"
	EventCartRemove     EventType = "cart_remove"
	EventCheckoutStart  EventType = "checkout_start"
	EventPaymentAttempt EventType = "payment_attempt"
	EventExitIntent     EventType = "exit_intent"
)

func (t EventType) Valid() bool {
	switch t {
	case EventPageView, EventProductView, EventCartAdd, EventCartRemove,
		EventCheckoutStart, EventPaymentAttempt, EventExitIntent:
		return true
	}
	return false
}

type BehaviorEvent struct {
	ID         uint              `gorm:"primaryKey"              json:"id"`
	SessionID  string            `gorm:"index;size:128;not null" json:"session_id"`
	CustomerID string            `gorm:"size:64"                 json:"customer_id,omitempty"`
	Type       EventType         `gorm:"index;size:32;not null"  json:"type"`
	PageURL    string            `                               json:"page_url,omitempty"`
	ProductID  *uint             `                               json:"product_id,omitempty"`
	Metadata   datatypes.JSONMap `                               json:"metadata,omitempty"`
	OccurredAt time.Time         `gorm:"index"                   json:"occurred_at"`
}

type Promotion struct {
	ID           uint            `gorm:"primaryKey"                  json:"id"`
	Name         string          `gorm:"not null"                    json:"name"`
	Priority     int             `gorm:"not null;default:0"          json:"priority"`
	Category     string          `gorm:"size:64"                     json:"category,omitempty"`
	MinCartValue decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"min_cart_value"`
	OfferType    string          `gorm:"size:32;not null"            json:"offer_type"`
	OfferValue   decimal.Decimal `gorm:"type:decimal(5,2);not null"  json:"offer_value"`
	FreeShipping bool            `gorm:"not null;default:false"      json:"free_shipping"`
	Description  string          `                                   json:"description"`
	Active       bool            `gorm:"not null;default:true"       json:"active"`
	StartsAt     *time.Time      `                                   json:"starts_at,omitempty"`
	EndsAt       *time.Time      `                                   json:"ends_at,omitempty"`
	CreatedAt    time.Time       `                                   json:"created_at"`
}

const OrderStatusNew = "new"

type Order struct {
	ID        uint            `gorm:"primaryKey"                  json:"id"`
	CartID    uint            `gorm:"uniqueIndex;not null"        json:"cart_id"`
	SessionID string          `gorm:"index;size:128;not null"     json:"session_id"`
	Email     string          `                                   json:"email,omitempty"`
	Subtotal  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	Discount  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"discount"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	Status    string          `gorm:"size:16;not null"            json:"status"`
	CreatedAt time.Time       `                                   json:"created_at"`
	Items     []OrderItem     `gorm:"foreignKey:OrderID"          json:"items"`
}

type OrderItem struct {
	ID        uint            `gorm:"primaryKey"                  json:"id"`
	OrderID   uint            `gorm:"index;not null"              json:"order_id"`
	ProductID uint            `gorm:"not null"                    json:"product_id"`
	Quantity  uint            `gorm:"not null;check:quantity>0"   json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	LineTotal decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"line_total"`
}
