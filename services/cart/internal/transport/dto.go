package transport

import (
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
)

type ItemInput struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

type ReplaceItemsRequest struct {
	Items         []ItemInput `json:"items"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
}

type CheckoutRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type EventRequest struct {
	Type      models.EventType `json:"type"`
	PageURL   string           `json:"page_url"`
	ProductID *uint            `json:"product_id"`
	Metadata  map[string]any   `json:"metadata"`
}

type EventResponse struct {
	ID    uint         `json:"id"`
	Popup *offer.Offer `json:"popup,omitempty"`
}

type ClientConfigResponse struct {
	PopupIdleSeconds int    `json:"popup_idle_seconds"`
	SessionHeader    string `json:"session_header"`
}

type ValidationErrorResponse struct {
	Error     string `json:"error"`
	ProductID uint   `json:"product_id,omitempty"`
}

type AcceptRequest struct {
	Token string `json:"token"`
}

type PageResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

type SearchResponse struct {
	Total int64            `json:"total"`
	Items []models.Product `json:"items"`
}

type CreatePromotionRequest struct {
	Name         string  `json:"name"`
	Priority     int     `json:"priority"`
	Category     string  `json:"category"`
	MinCartValue string  `json:"min_cart_value"`
	OfferType    string  `json:"offer_type"`
	OfferValue   string  `json:"offer_value"`
	FreeShipping bool    `json:"free_shipping"`
	Description  string  `json:"description"`
	StartsAt     *string `json:"starts_at"`
	EndsAt       *string `json:"ends_at"`
}
