// Package mock is an in-process purchasing backend for development and tests.
// It issues request ids, keeps a purchase history per user and delivers
// results asynchronously, the way the vendor's sandbox app tester does.
package mock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rcourtman/buttonclicker/internal/catalog"
	"github.com/rcourtman/buttonclicker/internal/logging"
	"github.com/rcourtman/buttonclicker/pkg/purchasing"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by requests issued after Close.
var ErrClosed = errors.New("sandbox backend closed")

// DefaultPageSize is the number of receipts per purchase-updates page.
const DefaultPageSize = 2

// Op names a request kind for failure injection.
type Op string

const (
	OpUserID   Op = "user_id"
	OpPurchase Op = "purchase"
	OpUpdates  Op = "purchase_updates"
	OpItemData Op = "item_data"
)

// Options configures a Backend.
type Options struct {
	PageSize int
	User     string
	Now      func() time.Time
}

// historyEntry is one receipt in a user's history. Revoked receipts stay in
// place as tombstones so that offsets handed out earlier keep pointing at the
// same position.
type historyEntry struct {
	receipt purchasing.Receipt
	revoked bool
}

type account struct {
	history []historyEntry
	revoked []string
}

// Backend implements purchasing.Backend in memory.
type Backend struct {
	catalog  *catalog.Catalog
	pageSize int
	now      func() time.Time
	logger   zerolog.Logger
	queue    *eventQueue

	mu       sync.Mutex
	user     string
	accounts map[string]*account
	failNext map[Op]int
	closed   bool
}

var _ purchasing.Backend = (*Backend)(nil)

// NewBackend creates a sandbox backend for the SKUs in cat.
func NewBackend(cat *catalog.Catalog, opts Options) *Backend {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Backend{
		catalog:  cat,
		pageSize: opts.PageSize,
		now:      opts.Now,
		logger:   logging.New("sandbox", logging.WithField("page_size", strconv.Itoa(opts.PageSize))),
		queue:    newEventQueue(),
		user:     opts.User,
		accounts: make(map[string]*account),
		failNext: make(map[Op]int),
	}
}

// Events returns the channel results are delivered on. It is closed by Close.
func (b *Backend) Events() <-chan purchasing.Event {
	return b.queue.out
}

// Announce delivers SDKAvailable.
func (b *Backend) Announce() {
	b.queue.push(purchasing.SDKAvailable{Sandbox: true})
}

// Close stops delivery. Results still queued are dropped.
func (b *Backend) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.queue.close()
}

// SetUser changes the signed-in user.
func (b *Backend) SetUser(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.user = userID
}

// User returns the signed-in user.
func (b *Backend) User() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.user
}

// FailNext makes the next request of kind op report a failed status.
func (b *Backend) FailNext(op Op) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext[op]++
}

// Grant adds a receipt for sku to userID's history without a purchase flow.
// Subscriptions start at the backend clock and stay open.
func (b *Backend) Grant(userID, sku string) (purchasing.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kind, ok := b.kindFor(sku)
	if !ok {
		return purchasing.Receipt{}, fmt.Errorf("unknown sku %q", sku)
	}
	receipt := b.newReceipt(sku, kind)
	if kind != purchasing.ItemKindConsumable {
		acct := b.accountLocked(userID)
		acct.history = append(acct.history, historyEntry{receipt: receipt})
	}
	return receipt, nil
}

// Revoke tombstones every receipt for sku in userID's history. The revocation
// is reported with the next purchase-updates page.
func (b *Backend) Revoke(userID, sku string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct := b.accountLocked(userID)
	for i := range acct.history {
		if acct.history[i].receipt.SKU == sku {
			acct.history[i].revoked = true
		}
	}
	acct.revoked = append(acct.revoked, sku)
}

// EndSubscription closes every open subscription period of userID at end.
func (b *Backend) EndSubscription(userID string, end time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct := b.accountLocked(userID)
	n := 0
	for i := range acct.history {
		e := &acct.history[i]
		p := e.receipt.Subscription
		if !e.revoked && p != nil && p.Open() {
			closed := *p
			closed.EndDate = &end
			e.receipt.Subscription = &closed
			n++
		}
	}
	return n
}

// History returns userID's receipts that have not been revoked.
func (b *Backend) History(userID string) []purchasing.Receipt {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[userID]
	if !ok {
		return nil
	}
	var out []purchasing.Receipt
	for _, e := range acct.history {
		if !e.revoked {
			out = append(out, e.receipt)
		}
	}
	return out
}

// GetUserID requests the signed-in user's id.
func (b *Backend) GetUserID(_ context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	res := purchasing.UserIDResult{RequestID: id, Status: purchasing.UserIDSuccessful, UserID: b.user}
	if b.takeFailureLocked(OpUserID) || b.user == "" {
		res.Status = purchasing.UserIDFailed
		res.UserID = ""
	}
	b.queue.push(res)
	return id, nil
}

// InitiatePurchase buys sku for the signed-in user.
func (b *Backend) InitiatePurchase(_ context.Context, sku string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	res := b.purchaseLocked(id, sku)
	b.logger.Debug().Str("requestID", id).Str("sku", sku).Str("status", string(res.Status)).Msg("Sandbox purchase")
	b.queue.push(res)
	return id, nil
}

func (b *Backend) purchaseLocked(id, sku string) purchasing.PurchaseResult {
	res := purchasing.PurchaseResult{RequestID: id, UserID: b.user}
	if b.takeFailureLocked(OpPurchase) || b.user == "" {
		res.Status = purchasing.PurchaseFailed
		return res
	}
	kind, ok := b.kindFor(sku)
	if !ok {
		res.Status = purchasing.PurchaseInvalidSKU
		return res
	}

	acct := b.accountLocked(b.user)
	if kind != purchasing.ItemKindConsumable && acct.owns(sku, kind) {
		res.Status = purchasing.PurchaseAlreadyEntitled
		return res
	}

	receipt := b.newReceipt(sku, kind)
	if kind != purchasing.ItemKindConsumable {
		acct.history = append(acct.history, historyEntry{receipt: receipt})
	}
	res.Status = purchasing.PurchaseSuccessful
	res.Receipt = &receipt
	return res
}

// InitiatePurchaseUpdates requests one page of the signed-in user's history.
// Offsets are the decimal index of the next history entry; tombstoned
// entries are skipped but still counted.
func (b *Backend) InitiatePurchaseUpdates(_ context.Context, offset purchasing.Offset) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	res := purchasing.PurchaseUpdatesResult{RequestID: id, UserID: b.user, Offset: offset}

	start, err := parseOffset(offset)
	if err != nil || b.takeFailureLocked(OpUpdates) || b.user == "" {
		res.Status = purchasing.UpdatesFailed
		b.queue.push(res)
		return id, nil
	}

	acct := b.accountLocked(b.user)
	end := min(start, len(acct.history))
	for end < len(acct.history) && len(res.Receipts) < b.pageSize {
		if e := acct.history[end]; !e.revoked {
			res.Receipts = append(res.Receipts, e.receipt)
		}
		end++
	}

	res.Status = purchasing.UpdatesSuccessful
	res.RevokedSKUs = acct.revoked
	res.Offset = purchasing.Offset(strconv.Itoa(end))
	res.HasMore = acct.liveAfter(end)
	acct.revoked = nil

	b.logger.Debug().
		Str("requestID", id).
		Str("user", b.user).
		Int("receipts", len(res.Receipts)).
		Int("revoked", len(res.RevokedSKUs)).
		Bool("hasMore", res.HasMore).
		Msg("Sandbox purchase updates")
	b.queue.push(res)
	return id, nil
}

// InitiateItemData describes the requested SKUs.
func (b *Backend) InitiateItemData(_ context.Context, skus []string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	res := purchasing.ItemDataResult{RequestID: id, Status: purchasing.ItemDataSuccessful}
	if b.takeFailureLocked(OpItemData) {
		res.Status = purchasing.ItemDataFailed
		b.queue.push(res)
		return id, nil
	}

	res.Items = make(map[string]purchasing.Item, len(skus))
	for _, sku := range skus {
		kind, ok := b.kindFor(sku)
		if !ok {
			res.UnavailableSKUs = append(res.UnavailableSKUs, sku)
			continue
		}
		key, _ := b.catalog.KeyFor(sku)
		res.Items[sku] = purchasing.Item{
			SKU:         sku,
			Kind:        kind,
			Title:       titleFor(key),
			Description: "Sandbox item " + sku,
			Price:       "0.99",
		}
	}
	if len(res.UnavailableSKUs) > 0 {
		res.Status = purchasing.ItemDataSuccessfulWithUnavailable
	}
	b.queue.push(res)
	return id, nil
}

func (b *Backend) kindFor(sku string) (purchasing.ItemKind, bool) {
	key, ok := b.catalog.KeyFor(sku)
	if !ok {
		return "", false
	}
	switch key {
	case catalog.KeyCredits:
		return purchasing.ItemKindConsumable, true
	case catalog.KeySubscription:
		return purchasing.ItemKindSubscription, true
	default:
		return purchasing.ItemKindEntitled, true
	}
}

func (b *Backend) newReceipt(sku string, kind purchasing.ItemKind) purchasing.Receipt {
	receipt := purchasing.Receipt{
		SKU:   sku,
		Kind:  kind,
		Token: ulid.Make().String(),
	}
	if kind == purchasing.ItemKindSubscription {
		receipt.Subscription = &purchasing.SubscriptionPeriod{StartDate: b.now().UTC()}
	}
	return receipt
}

func (b *Backend) accountLocked(userID string) *account {
	acct, ok := b.accounts[userID]
	if !ok {
		acct = &account{}
		b.accounts[userID] = acct
	}
	return acct
}

func (b *Backend) takeFailureLocked(op Op) bool {
	if b.failNext[op] == 0 {
		return false
	}
	b.failNext[op]--
	return true
}

func (a *account) owns(sku string, kind purchasing.ItemKind) bool {
	for _, e := range a.history {
		r := e.receipt
		if e.revoked || r.SKU != sku {
			continue
		}
		if kind != purchasing.ItemKindSubscription || (r.Subscription != nil && r.Subscription.Open()) {
			return true
		}
	}
	return false
}

func (a *account) liveAfter(i int) bool {
	for ; i < len(a.history); i++ {
		if !a.history[i].revoked {
			return true
		}
	}
	return false
}

func parseOffset(offset purchasing.Offset) (int, error) {
	if offset == "" || offset == purchasing.OffsetBeginning {
		return 0, nil
	}
	n, err := strconv.Atoi(string(offset))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid offset %q", offset)
	}
	return n, nil
}

func titleFor(key catalog.Key) string {
	switch key {
	case catalog.KeyCredits:
		return "10 Clicks"
	case catalog.KeyBlue:
		return "Blue Button"
	case catalog.KeyPurple:
		return "Purple Button"
	case catalog.KeyGreen:
		return "Green Button"
	case catalog.KeySubscription:
		return "Button Clicker Subscription"
	default:
		return string(key)
	}
}
