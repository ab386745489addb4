// Package catalog holds the static mapping from product SKUs to the
// entitlement keys they unlock.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Key names one entitlement value in a user's store.
type Key string

const (
	KeyCredits      Key = "numClicks"
	KeyBlue         Key = "hasBlueButton"
	KeyPurple       Key = "hasPurpleButton"
	KeyGreen        Key = "hasGreenButton"
	KeySubscription Key = "hasSubscription"

	// Bookkeeping values kept next to the entitlements.
	KeyOffset    Key = "offset"
	KeyStartDate Key = "startDate"
)

// IsFlag reports whether k is a boolean entitlement.
func (k Key) IsFlag() bool {
	switch k {
	case KeyBlue, KeyPurple, KeyGreen, KeySubscription:
		return true
	default:
		return false
	}
}

func (k Key) String() string { return string(k) }

// Default SKUs of the sample app.
const (
	DefaultConsumableSKU         = "com.amazon.buttonclicker.ten_clicks"
	DefaultBlueSKU               = "com.amazon.buttonclicker.blue_button"
	DefaultPurpleSKU             = "com.amazon.buttonclicker.purple_button"
	DefaultGreenSKU              = "com.amazon.buttonclicker.green_button"
	DefaultParentSubscriptionSKU = "com.amazon.buttonclicker.subscription"
	DefaultChildSubscriptionSKU  = "com.amazon.buttonclicker.subscription.1mo"
)

// SKUs names the product identifiers configured for the game.
type SKUs struct {
	Consumable         string
	Blue               string
	Purple             string
	Green              string
	ParentSubscription string
	ChildSubscription  string
}

// DefaultSKUs returns the SKUs used by the sample app.
func DefaultSKUs() SKUs {
	return SKUs{
		Consumable:         DefaultConsumableSKU,
		Blue:               DefaultBlueSKU,
		Purple:             DefaultPurpleSKU,
		Green:              DefaultGreenSKU,
		ParentSubscription: DefaultParentSubscriptionSKU,
		ChildSubscription:  DefaultChildSubscriptionSKU,
	}
}

// Catalog is an immutable SKU lookup table.
type Catalog struct {
	skus  SKUs
	byKey map[string]Key
}

// New builds a catalog. Every SKU must be non-empty and distinct so that each
// SKU resolves to exactly one key.
func New(skus SKUs) (*Catalog, error) {
	entries := []struct {
		field string
		sku   string
		key   Key
	}{
		{"consumable", skus.Consumable, KeyCredits},
		{"blue", skus.Blue, KeyBlue},
		{"purple", skus.Purple, KeyPurple},
		{"green", skus.Green, KeyGreen},
		{"parent subscription", skus.ParentSubscription, KeySubscription},
		{"child subscription", skus.ChildSubscription, KeySubscription},
	}

	byKey := make(map[string]Key, len(entries))
	for _, e := range entries {
		sku := strings.TrimSpace(e.sku)
		if sku == "" {
			return nil, fmt.Errorf("%s sku is required", e.field)
		}
		if existing, ok := byKey[sku]; ok {
			return nil, fmt.Errorf("sku %q mapped twice (%s and %s)", sku, existing, e.key)
		}
		byKey[sku] = e.key
	}
	return &Catalog{skus: skus, byKey: byKey}, nil
}

// MustNew is New for package-level defaults and tests.
func MustNew(skus SKUs) *Catalog {
	c, err := New(skus)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the catalog of the sample app.
func Default() *Catalog {
	return MustNew(DefaultSKUs())
}

// KeyFor returns the entitlement key for sku.
func (c *Catalog) KeyFor(sku string) (Key, bool) {
	k, ok := c.byKey[strings.TrimSpace(sku)]
	return k, ok
}

// SKUs returns the configured SKU set.
func (c *Catalog) SKUs() SKUs { return c.skus }

// All returns every known SKU in sorted order.
func (c *Catalog) All() []string {
	out := make([]string, 0, len(c.byKey))
	for sku := range c.byKey {
		out = append(out, sku)
	}
	sort.Strings(out)
	return out
}
