package purchasing

import "context"

// Backend issues purchasing requests. Every Initiate call returns a request id
// immediately; the matching result arrives later as an Event. Implementations
// must deliver results asynchronously and never call back into the caller from
// inside an Initiate call.
type Backend interface {
	GetUserID(ctx context.Context) (string, error)
	InitiatePurchase(ctx context.Context, sku string) (string, error)
	InitiatePurchaseUpdates(ctx context.Context, offset Offset) (string, error)
	InitiateItemData(ctx context.Context, skus []string) (string, error)
}
