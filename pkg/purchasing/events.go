package purchasing

// Event is a result delivered asynchronously by a Backend. The set of
// implementations is closed; consumers switch over the concrete types.
type Event interface {
	isEvent()
}

// SDKAvailable is delivered once the backend is ready to accept requests.
type SDKAvailable struct {
	Sandbox bool
}

// UserIDResult answers GetUserID.
type UserIDResult struct {
	RequestID string
	Status    UserIDStatus
	UserID    string
}

// PurchaseResult answers InitiatePurchase. Receipt is only set when Status is
// PurchaseSuccessful.
type PurchaseResult struct {
	RequestID string
	UserID    string
	Status    PurchaseStatus
	Receipt   *Receipt
}

// PurchaseUpdatesResult is one page of a user's purchase history.
type PurchaseUpdatesResult struct {
	RequestID   string
	UserID      string
	Status      UpdatesStatus
	Receipts    []Receipt
	RevokedSKUs []string
	Offset      Offset
	HasMore     bool
}

// ItemDataResult answers InitiateItemData.
type ItemDataResult struct {
	RequestID       string
	Status          ItemDataStatus
	Items           map[string]Item
	UnavailableSKUs []string
}

func (SDKAvailable) isEvent()          {}
func (UserIDResult) isEvent()          {}
func (PurchaseResult) isEvent()        {}
func (PurchaseUpdatesResult) isEvent() {}
func (ItemDataResult) isEvent()        {}
