package reconciler

import (
	"context"

	"github.com/rcourtman/buttonclicker/internal/catalog"
	"github.com/rcourtman/buttonclicker/internal/entitlements"
	recerrors "github.com/rcourtman/buttonclicker/internal/errors"
	"github.com/rcourtman/buttonclicker/internal/metrics"
	"github.com/rcourtman/buttonclicker/pkg/purchasing"
	"github.com/rs/zerolog/log"
)

// OnPurchaseUpdatesReceived applies one page of purchase history.
//
// Revocations are committed one by one. Receipts are only applied for a
// successful page. The page's offset is checkpointed whatever the status, and
// the next page is requested only after a successful page that has more.
func (r *Reconciler) OnPurchaseUpdatesReceived(ctx context.Context, batch purchasing.PurchaseUpdatesResult) error {
	r.mu.Lock()
	if r.store == nil || batch.UserID != r.userID {
		tracked := r.userID
		r.mu.Unlock()
		metrics.RecordStaleResult("purchase_updates")
		log.Debug().
			Err(recerrors.New(recerrors.ErrorTypeStaleUser, "purchase_updates", batch.UserID, recerrors.ErrStaleUser).WithRequest(batch.RequestID)).
			Str("trackedUser", tracked).
			Msg("Discarding purchase updates for a user that is no longer tracked")
		return nil
	}
	userID := r.userID
	metrics.RecordUpdatePage(string(batch.Status))

	for _, sku := range batch.RevokedSKUs {
		key, ok := r.flagFor(sku)
		if !ok {
			continue
		}
		r.store.SetBool(key, false)
		if err := r.commitLocked(ctx, "revoke"); err != nil {
			r.phase = PhaseSettled
			r.mu.Unlock()
			return err
		}
		metrics.RevocationsTotal.Inc()
		log.Info().Str("user", userID).Str("sku", sku).Msg("Revoked SKU")
	}

	success := batch.Status == purchasing.UpdatesSuccessful
	if success {
		r.stageHistoryLocked(batch)
	} else {
		log.Warn().
			Str("user", userID).
			Str("requestID", batch.RequestID).
			Str("status", string(batch.Status)).
			Msg("Purchase updates request failed")
	}

	if batch.Offset != "" {
		r.store.SetString(catalog.KeyOffset, batch.Offset.String())
	}
	if err := r.commitLocked(ctx, "purchase_updates"); err != nil {
		// Paging stops here; the last committed offset is the resume point.
		r.phase = PhaseSettled
		r.mu.Unlock()
		return err
	}

	more := success && batch.HasMore
	if more {
		r.phase = PhasePaging
	} else {
		r.phase = PhaseSettled
	}
	var rec entitlements.Record
	if success {
		rec = r.snapshotLocked()
	}
	r.mu.Unlock()

	if success {
		r.notify(rec)
	}
	if more {
		log.Info().Str("user", userID).Str("offset", batch.Offset.String()).Msg("Requesting next purchase updates page")
		r.requestUpdates(ctx, userID, batch.Offset)
	}
	return nil
}

// stageHistoryLocked re-entitles receipts from a successful page and derives
// the subscription flag from its subscription receipts.
func (r *Reconciler) stageHistoryLocked(batch purchasing.PurchaseUpdatesResult) {
	var latest latestPeriods
	for _, receipt := range batch.Receipts {
		switch receipt.Kind {
		case purchasing.ItemKindEntitled:
			if key, ok := r.flagFor(receipt.SKU); ok {
				r.store.SetBool(key, true)
			}
		case purchasing.ItemKindSubscription:
			if receipt.Subscription == nil {
				log.Warn().Str("sku", receipt.SKU).Msg("Subscription receipt has no period; ignoring")
				continue
			}
			latest.add(*receipt.Subscription)
		case purchasing.ItemKindConsumable:
			// Consumables are fulfilled when purchased, never from history.
		default:
			log.Warn().Str("sku", receipt.SKU).Str("kind", string(receipt.Kind)).Msg("Receipt has unknown item kind")
			continue
		}
		logReceipt(batch.RequestID, receipt)
	}

	if active, start, ok := latest.active(); ok {
		r.store.SetBool(catalog.KeySubscription, active)
		r.store.SetInt(catalog.KeyStartDate, start.UnixMilli())
	}
}
