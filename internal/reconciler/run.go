package reconciler

import (
	"context"

	recerrors "github.com/rcourtman/buttonclicker/internal/errors"
	"github.com/rcourtman/buttonclicker/internal/logging"
	"github.com/rcourtman/buttonclicker/pkg/purchasing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Run applies events in arrival order until ctx is done or events is closed.
// Handler failures are logged; none of them end the session.
func (r *Reconciler) Run(ctx context.Context, events <-chan purchasing.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, ev); err != nil {
				log.Error().
					Err(err).
					Str("type", string(recerrors.TypeOf(err))).
					Bool("fatal", recerrors.IsFatal(err)).
					Msg("Failed to apply purchasing event")
			}
		}
	}
}

// Handle dispatches a single event.
func (r *Reconciler) Handle(ctx context.Context, ev purchasing.Event) error {
	switch e := ev.(type) {
	case purchasing.SDKAvailable:
		return r.OnSDKAvailable(ctx, e.Sandbox)
	case purchasing.UserIDResult:
		return r.OnUserIDResponse(ctx, e)
	case purchasing.PurchaseResult:
		return r.OnPurchaseCompleted(ctx, e)
	case purchasing.PurchaseUpdatesResult:
		return r.OnPurchaseUpdatesReceived(ctx, e)
	case purchasing.ItemDataResult:
		r.OnItemDataResponse(e)
		return nil
	default:
		log.Warn().Type("event", ev).Msg("Ignoring unknown purchasing event")
		return nil
	}
}

// OnSDKAvailable asks the backend who the current user is and what the
// catalog SKUs look like.
func (r *Reconciler) OnSDKAvailable(ctx context.Context, sandbox bool) error {
	log.Info().Bool("sandbox", sandbox).Msg("Purchasing SDK available")
	if _, err := r.backend.GetUserID(ctx); err != nil {
		log.Warn().Err(recerrors.WrapBackendError("get_user_id", "", err)).Msg("Failed to request user id")
	}
	if _, err := r.RequestItemData(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to request item data")
	}
	return nil
}

// OnUserIDResponse starts tracking the returned user.
func (r *Reconciler) OnUserIDResponse(ctx context.Context, res purchasing.UserIDResult) error {
	if res.Status != purchasing.UserIDSuccessful || res.UserID == "" {
		log.Warn().Str("requestID", res.RequestID).Str("status", string(res.Status)).Msg("Unable to get user id")
		return nil
	}
	return r.OnUserResolved(ctx, res.UserID)
}

// RequestItemData asks the backend to describe every catalog SKU.
func (r *Reconciler) RequestItemData(ctx context.Context) (string, error) {
	requestID, err := r.backend.InitiateItemData(ctx, r.catalog.All())
	if err != nil {
		return "", recerrors.WrapBackendError("item_data", r.UserID(), err)
	}
	return requestID, nil
}

// OnItemDataResponse logs the purchasable items. It never touches state.
func (r *Reconciler) OnItemDataResponse(res purchasing.ItemDataResult) {
	switch res.Status {
	case purchasing.ItemDataSuccessful, purchasing.ItemDataSuccessfulWithUnavailable:
		log.Info().
			Str("requestID", res.RequestID).
			Int("items", len(res.Items)).
			Int("unavailable", len(res.UnavailableSKUs)).
			Msg("Item data received")
		for _, sku := range res.UnavailableSKUs {
			log.Warn().Str("sku", sku).Msg("Unavailable SKU")
		}
		if !logging.IsLevelEnabled(zerolog.DebugLevel) {
			return
		}
		for _, item := range res.Items {
			log.Debug().
				Str("sku", item.SKU).
				Str("title", item.Title).
				Str("kind", string(item.Kind)).
				Str("price", item.Price).
				Str("description", item.Description).
				Msg("Item")
		}
	case purchasing.ItemDataFailed:
		log.Warn().Str("requestID", res.RequestID).Msg("Item data request failed")
	default:
		log.Warn().Str("requestID", res.RequestID).Str("status", string(res.Status)).Msg("Unknown item data status")
	}
}
