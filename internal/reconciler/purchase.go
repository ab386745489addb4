package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcourtman/buttonclicker/internal/catalog"
	"github.com/rcourtman/buttonclicker/internal/entitlements"
	recerrors "github.com/rcourtman/buttonclicker/internal/errors"
	"github.com/rcourtman/buttonclicker/internal/metrics"
	"github.com/rcourtman/buttonclicker/pkg/purchasing"
	"github.com/rs/zerolog/log"
)

// Purchase starts a purchase of sku, resolving its entitlement key from the
// catalog.
func (r *Reconciler) Purchase(ctx context.Context, sku string) (string, error) {
	key, ok := r.catalog.KeyFor(sku)
	if !ok {
		return "", recerrors.New(recerrors.ErrorTypeInvalidSKU, "initiate_purchase", r.UserID(),
			fmt.Errorf("sku %q is not in the catalog", sku))
	}
	return r.InitiatePurchase(ctx, sku, key)
}

// InitiatePurchase asks the backend to buy sku and remembers that the request
// targets key. The mapping is stored while the writer lock is held, so no
// result for the request can be applied before it exists.
func (r *Reconciler) InitiatePurchase(ctx context.Context, sku string, key catalog.Key) (string, error) {
	if key == "" {
		return "", recerrors.New(recerrors.ErrorTypeInvalidSKU, "initiate_purchase", r.UserID(),
			fmt.Errorf("no entitlement key for sku %q", sku))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	requestID, err := r.backend.InitiatePurchase(ctx, sku)
	if err != nil {
		return "", recerrors.WrapBackendError("initiate_purchase", r.userID, err)
	}
	r.pending.Put(requestID, key)

	log.Info().
		Str("sku", sku).
		Str("key", key.String()).
		Str("requestID", requestID).
		Msg("Purchase requested")
	return requestID, nil
}

// OnPurchaseCompleted applies a purchase result. A result for a different
// user first switches the tracked user and schedules a history sync for it.
func (r *Reconciler) OnPurchaseCompleted(ctx context.Context, res purchasing.PurchaseResult) error {
	metrics.RecordPurchaseResult(string(res.Status))

	r.mu.Lock()
	var (
		syncOffset purchasing.Offset
		switched   bool
	)
	if res.UserID != "" && res.UserID != r.userID {
		offset, err := r.switchUserLocked(ctx, res.UserID)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		syncOffset, switched = offset, true
	}
	if r.store == nil {
		r.mu.Unlock()
		log.Warn().Str("requestID", res.RequestID).Msg("Purchase result received before a user was resolved")
		return nil
	}

	userID := r.userID
	changed, err := r.applyPurchaseLocked(ctx, res)
	var rec entitlements.Record
	if changed {
		rec = r.snapshotLocked()
	}
	r.mu.Unlock()

	if switched {
		r.requestUpdates(ctx, userID, syncOffset)
	}
	if err != nil {
		return err
	}
	if changed {
		r.notify(rec)
	}
	return nil
}

func (r *Reconciler) applyPurchaseLocked(ctx context.Context, res purchasing.PurchaseResult) (bool, error) {
	switch res.Status {
	case purchasing.PurchaseSuccessful:
		r.pending.Take(res.RequestID)
		if res.Receipt == nil {
			log.Error().Str("requestID", res.RequestID).Msg("Successful purchase result carried no receipt")
			return false, nil
		}
		if !r.stageReceiptLocked(*res.Receipt) {
			return false, nil
		}
		if err := r.commitLocked(ctx, "purchase"); err != nil {
			return false, err
		}
		logReceipt(res.RequestID, *res.Receipt)
		return true, nil

	case purchasing.PurchaseAlreadyEntitled:
		key, ok := r.pending.Take(res.RequestID)
		if !ok {
			metrics.UnknownRequestsTotal.Inc()
			log.Warn().
				Err(recerrors.New(recerrors.ErrorTypeUnknownRequest, "already_entitled", r.userID, recerrors.ErrUnknownRequest).WithRequest(res.RequestID)).
				Msg("Already-entitled result for a request that is not pending; skipping")
			return false, nil
		}
		if !key.IsFlag() {
			log.Warn().Str("requestID", res.RequestID).Str("key", key.String()).Msg("Already-entitled result for a non-entitlement key; skipping")
			return false, nil
		}
		r.store.SetBool(key, true)
		if err := r.commitLocked(ctx, "already_entitled"); err != nil {
			return false, err
		}
		log.Info().Str("requestID", res.RequestID).Str("key", key.String()).Msg("Customer already entitled")
		return true, nil

	case purchasing.PurchaseFailed, purchasing.PurchaseInvalidSKU:
		key, _ := r.pending.Take(res.RequestID)
		log.Info().
			Str("requestID", res.RequestID).
			Str("key", key.String()).
			Str("status", string(res.Status)).
			Msg("Purchase did not complete")
		return false, nil

	default:
		log.Warn().Str("requestID", res.RequestID).Str("status", string(res.Status)).Msg("Unknown purchase status")
		return false, nil
	}
}

// stageReceiptLocked stages the writes for a fulfilled receipt and reports
// whether anything was staged.
func (r *Reconciler) stageReceiptLocked(receipt purchasing.Receipt) bool {
	switch receipt.Kind {
	case purchasing.ItemKindConsumable:
		credits := r.store.GetInt(catalog.KeyCredits, r.defaultCredits)
		r.store.SetInt(catalog.KeyCredits, credits+r.consumableBonus)
		return true

	case purchasing.ItemKindEntitled:
		key, ok := r.flagFor(receipt.SKU)
		if !ok {
			return false
		}
		r.store.SetBool(key, true)
		return true

	case purchasing.ItemKindSubscription:
		key, ok := r.flagFor(receipt.SKU)
		if !ok {
			return false
		}
		start := r.now()
		if receipt.Subscription != nil && !receipt.Subscription.StartDate.IsZero() {
			start = receipt.Subscription.StartDate
		}
		r.store.SetBool(key, true)
		r.store.SetInt(catalog.KeyStartDate, start.UnixMilli())
		return true

	default:
		log.Warn().Str("sku", receipt.SKU).Str("kind", string(receipt.Kind)).Msg("Receipt has unknown item kind")
		return false
	}
}

// flagFor resolves sku to a boolean entitlement key.
func (r *Reconciler) flagFor(sku string) (catalog.Key, bool) {
	key, ok := r.catalog.KeyFor(sku)
	if !ok || !key.IsFlag() {
		log.Warn().
			Err(recerrors.New(recerrors.ErrorTypeInvalidSKU, "resolve_sku", r.userID, recerrors.ErrInvalidSKU)).
			Str("sku", sku).
			Msg("Receipt SKU has no entitlement flag")
		return "", false
	}
	return key, true
}

// ConsumeCredit spends one click. The tracked user needs an active
// subscription and a positive balance.
func (r *Reconciler) ConsumeCredit(ctx context.Context) (int64, error) {
	r.mu.Lock()
	if r.store == nil {
		r.mu.Unlock()
		return 0, recerrors.ErrNoUser
	}
	if !r.store.GetBool(catalog.KeySubscription, false) {
		r.mu.Unlock()
		return 0, recerrors.ErrNotSubscribed
	}
	credits := r.store.GetInt(catalog.KeyCredits, r.defaultCredits)
	if credits <= 0 {
		r.mu.Unlock()
		return 0, recerrors.ErrNoCredits
	}
	r.store.SetInt(catalog.KeyCredits, credits-1)
	if err := r.commitLocked(ctx, "consume_credit"); err != nil {
		r.mu.Unlock()
		return credits, err
	}
	rec := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(rec)
	return credits - 1, nil
}

func logReceipt(requestID string, receipt purchasing.Receipt) {
	ev := log.Info().
		Str("requestID", requestID).
		Str("sku", receipt.SKU).
		Str("kind", string(receipt.Kind))
	if receipt.Subscription != nil {
		ev = ev.Time("start", receipt.Subscription.StartDate)
		if receipt.Subscription.EndDate != nil {
			ev = ev.Time("end", *receipt.Subscription.EndDate)
		}
	}
	ev.Msg("Receipt")
}

// IsUserError reports whether err is a refusal the caller can act on rather
// than a failure.
func IsUserError(err error) bool {
	return errors.Is(err, recerrors.ErrNoUser) ||
		errors.Is(err, recerrors.ErrNotSubscribed) ||
		errors.Is(err, recerrors.ErrNoCredits) ||
		errors.Is(err, recerrors.ErrInvalidSKU)
}
