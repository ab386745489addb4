// Package purchasing describes the boundary to an in-app purchasing backend:
// the requests an app can issue and the results the backend delivers back.
package purchasing

import (
	"strings"
	"time"
)

// ItemKind classifies a purchasable product.
type ItemKind string

const (
	ItemKindConsumable   ItemKind = "consumable"
	ItemKindEntitled     ItemKind = "entitled"
	ItemKindSubscription ItemKind = "subscription"
)

// Valid reports whether k is one of the known item kinds.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindConsumable, ItemKindEntitled, ItemKindSubscription:
		return true
	default:
		return false
	}
}

// PurchaseStatus is the outcome of a single purchase request.
type PurchaseStatus string

const (
	PurchaseSuccessful      PurchaseStatus = "successful"
	PurchaseAlreadyEntitled PurchaseStatus = "already_entitled"
	PurchaseFailed          PurchaseStatus = "failed"
	PurchaseInvalidSKU      PurchaseStatus = "invalid_sku"
)

// UpdatesStatus is the outcome of a purchase-updates (history) request.
type UpdatesStatus string

const (
	UpdatesSuccessful UpdatesStatus = "successful"
	UpdatesFailed     UpdatesStatus = "failed"
)

// UserIDStatus is the outcome of a user id request.
type UserIDStatus string

const (
	UserIDSuccessful UserIDStatus = "successful"
	UserIDFailed     UserIDStatus = "failed"
)

// ItemDataStatus is the outcome of an item data request.
type ItemDataStatus string

const (
	ItemDataSuccessful                ItemDataStatus = "successful"
	ItemDataSuccessfulWithUnavailable ItemDataStatus = "successful_with_unavailable_skus"
	ItemDataFailed                    ItemDataStatus = "failed"
)

// Offset is an opaque cursor into a user's purchase history.
type Offset string

// OffsetBeginning requests purchase history from the first receipt.
const OffsetBeginning Offset = "BEGINNING"

// ParseOffset converts a stored value into an Offset, falling back to the
// beginning of history for blank input.
func ParseOffset(s string) Offset {
	s = strings.TrimSpace(s)
	if s == "" {
		return OffsetBeginning
	}
	return Offset(s)
}

func (o Offset) String() string { return string(o) }

// SubscriptionPeriod is the validity window of one subscription receipt.
// A nil EndDate means the period is still open.
type SubscriptionPeriod struct {
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// Open reports whether the period has no end date.
func (p SubscriptionPeriod) Open() bool { return p.EndDate == nil }

// Receipt is the proof of one purchase.
type Receipt struct {
	SKU          string              `json:"sku"`
	Kind         ItemKind            `json:"item_type"`
	Token        string              `json:"purchase_token,omitempty"`
	Subscription *SubscriptionPeriod `json:"subscription_period,omitempty"`
}

// Item describes a product as listed by the backend.
type Item struct {
	SKU         string   `json:"sku"`
	Kind        ItemKind `json:"item_type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       string   `json:"price"`
}
