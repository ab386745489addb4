// Package reconciler turns asynchronous purchasing results into durable
// per-user entitlement state.
//
// All reads and writes of the tracked user's record happen under a single
// writer lock. Follow-up backend requests (pagination, user switches) are
// issued after the lock is released, so backends must deliver results
// asynchronously.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rcourtman/buttonclicker/internal/catalog"
	"github.com/rcourtman/buttonclicker/internal/entitlements"
	recerrors "github.com/rcourtman/buttonclicker/internal/errors"
	"github.com/rcourtman/buttonclicker/internal/metrics"
	"github.com/rcourtman/buttonclicker/internal/pending"
	"github.com/rcourtman/buttonclicker/pkg/purchasing"
	"github.com/rs/zerolog/log"
)

// DefaultConsumableBonus is the number of clicks one consumable purchase adds.
const DefaultConsumableBonus int64 = 10

// Phase is the reconciler's position in the user/paging lifecycle.
type Phase string

const (
	PhaseAwaitingUser Phase = "awaiting_user"
	PhasePaging       Phase = "paging"
	PhaseSettled      Phase = "settled"
)

// Listener is told about every durable entitlement change.
type Listener interface {
	OnEntitlementsChanged(rec entitlements.Record)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(rec entitlements.Record)

// OnEntitlementsChanged calls f.
func (f ListenerFunc) OnEntitlementsChanged(rec entitlements.Record) { f(rec) }

// Options wires a Reconciler. Backend, Store and Catalog are required.
type Options struct {
	Backend  purchasing.Backend
	Store    entitlements.Opener
	Catalog  *catalog.Catalog
	Pending  *pending.Registry
	Listener Listener

	ConsumableBonus int64
	DefaultCredits  int64
	Now             func() time.Time
}

// Reconciler owns the entitlement record of the currently tracked user.
type Reconciler struct {
	backend  purchasing.Backend
	opener   entitlements.Opener
	catalog  *catalog.Catalog
	pending  *pending.Registry
	listener Listener

	consumableBonus int64
	defaultCredits  int64
	now             func() time.Time
	ownsPending     bool

	mu       sync.Mutex
	userID   string
	store    entitlements.Store
	phase    Phase
	revision uint64
}

// New creates a Reconciler in the awaiting-user phase.
func New(opts Options) (*Reconciler, error) {
	if opts.Backend == nil {
		return nil, errors.New("purchasing backend is required")
	}
	if opts.Store == nil {
		return nil, errors.New("entitlement store is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("sku catalog is required")
	}

	r := &Reconciler{
		backend:         opts.Backend,
		opener:          opts.Store,
		catalog:         opts.Catalog,
		pending:         opts.Pending,
		listener:        opts.Listener,
		consumableBonus: opts.ConsumableBonus,
		defaultCredits:  opts.DefaultCredits,
		now:             opts.Now,
		phase:           PhaseAwaitingUser,
	}
	if r.pending == nil {
		r.pending = NewPendingRegistry(pending.DefaultMaxEntries, pending.DefaultTTL)
		r.ownsPending = true
	}
	if r.consumableBonus <= 0 {
		r.consumableBonus = DefaultConsumableBonus
	}
	if r.defaultCredits <= 0 {
		r.defaultCredits = entitlements.DefaultCredits
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// NewPendingRegistry creates a pending request registry whose evictions are
// logged and counted.
func NewPendingRegistry(maxEntries int, ttl time.Duration) *pending.Registry {
	return pending.New(maxEntries, ttl, pending.WithEvictHook(func(id string, key catalog.Key, reason pending.EvictReason) {
		metrics.RecordPendingEviction(string(reason))
		log.Warn().
			Str("requestID", id).
			Str("key", key.String()).
			Str("reason", string(reason)).
			Msg("Pending purchase request dropped before a result arrived")
	}))
}

// Close releases resources the reconciler created itself.
func (r *Reconciler) Close() error {
	if r.ownsPending {
		return r.pending.Close()
	}
	return nil
}

// UserID returns the tracked user, or "" before one is resolved.
func (r *Reconciler) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// Phase returns the current lifecycle phase.
func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Snapshot returns the tracked user's current entitlements.
func (r *Reconciler) Snapshot(_ context.Context) (entitlements.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return entitlements.Record{}, recerrors.ErrNoUser
	}
	return r.snapshotLocked(), nil
}

func (r *Reconciler) snapshotLocked() entitlements.Record {
	rec := entitlements.Load(r.userID, r.store, r.defaultCredits)
	rec.Revision = r.revision
	return rec
}

// OnUserResolved starts tracking userID and requests its purchase history
// from the last stored offset.
func (r *Reconciler) OnUserResolved(ctx context.Context, userID string) error {
	r.mu.Lock()
	offset, err := r.switchUserLocked(ctx, userID)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.requestUpdates(ctx, userID, offset)
	return nil
}

// switchUserLocked opens userID's store and returns its resume offset. The
// previous user's in-flight results become stale from here on.
func (r *Reconciler) switchUserLocked(ctx context.Context, userID string) (purchasing.Offset, error) {
	if userID == "" {
		return "", recerrors.WrapStoreError("switch_user", userID, errors.New("user id is required"))
	}
	store, err := r.opener.Open(ctx, userID)
	if err != nil {
		return "", recerrors.WrapStoreError("switch_user", userID, err)
	}

	if r.userID != "" && r.userID != userID {
		metrics.UserSwitchesTotal.Inc()
		log.Info().Str("from", r.userID).Str("to", userID).Msg("Tracked user changed")
	}
	r.userID = userID
	r.store = store
	r.phase = PhasePaging

	return purchasing.ParseOffset(store.GetString(catalog.KeyOffset, string(purchasing.OffsetBeginning))), nil
}

// requestUpdates asks the backend for the next purchase history page. A
// failure is terminal for this paging run; the stored offset stays the resume
// point.
func (r *Reconciler) requestUpdates(ctx context.Context, userID string, offset purchasing.Offset) {
	requestID, err := r.backend.InitiatePurchaseUpdates(ctx, offset)
	if err != nil {
		log.Warn().Err(recerrors.WrapBackendError("purchase_updates", userID, err)).
			Str("offset", offset.String()).
			Msg("Failed to request purchase updates")
		r.mu.Lock()
		if r.userID == userID {
			r.phase = PhaseSettled
		}
		r.mu.Unlock()
		return
	}
	log.Debug().
		Str("user", userID).
		Str("requestID", requestID).
		Str("offset", offset.String()).
		Msg("Requested purchase updates")
}

// notify runs after r.mu is released, so listeners may see snapshots out of
// order; Revision lets them drop the older one.
func (r *Reconciler) notify(rec entitlements.Record) {
	if r.listener != nil {
		r.listener.OnEntitlementsChanged(rec)
	}
}

func (r *Reconciler) commitLocked(ctx context.Context, op string) error {
	if err := r.store.Commit(ctx); err != nil {
		metrics.CommitFailuresTotal.Inc()
		return recerrors.WrapStoreError(op, r.userID, err)
	}
	r.revision++
	return nil
}
