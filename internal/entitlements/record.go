package entitlements

import (
	"time"

	"github.com/rcourtman/buttonclicker/internal/catalog"
	"github.com/rcourtman/buttonclicker/pkg/purchasing"
)

// DefaultCredits is the click balance of a user with no stored state.
const DefaultCredits int64 = 5

// Record is a point-in-time snapshot of a user's entitlements.
type Record struct {
	UserID            string            `json:"user_id"`
	Credits           int64             `json:"credits"`
	Blue              bool              `json:"blue"`
	Purple            bool              `json:"purple"`
	Green             bool              `json:"green"`
	Subscription      bool              `json:"subscription"`
	Offset            purchasing.Offset `json:"offset"`
	SubscriptionStart *time.Time        `json:"subscription_start,omitempty"`

	// Revision increases with every commit made by the reconciler that took
	// the snapshot. Zero when the record was read straight from a store.
	Revision uint64 `json:"revision,omitempty"`
}

// Load reads a snapshot from s. defaultCredits applies when no credit count
// has been stored yet.
func Load(userID string, s Store, defaultCredits int64) Record {
	rec := Record{
		UserID:       userID,
		Credits:      s.GetInt(catalog.KeyCredits, defaultCredits),
		Blue:         s.GetBool(catalog.KeyBlue, false),
		Purple:       s.GetBool(catalog.KeyPurple, false),
		Green:        s.GetBool(catalog.KeyGreen, false),
		Subscription: s.GetBool(catalog.KeySubscription, false),
		Offset:       purchasing.ParseOffset(s.GetString(catalog.KeyOffset, string(purchasing.OffsetBeginning))),
	}
	if ms := s.GetInt(catalog.KeyStartDate, 0); ms > 0 {
		start := time.UnixMilli(ms).UTC()
		rec.SubscriptionStart = &start
	}
	return rec
}

// Flag returns the value of a boolean entitlement in the snapshot.
func (r Record) Flag(key catalog.Key) bool {
	switch key {
	case catalog.KeyBlue:
		return r.Blue
	case catalog.KeyPurple:
		return r.Purple
	case catalog.KeyGreen:
		return r.Green
	case catalog.KeySubscription:
		return r.Subscription
	default:
		return false
	}
}
