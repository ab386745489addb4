package reconciler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rcourtman/buttonclicker/internal/catalog"
	"github.com/rcourtman/buttonclicker/internal/entitlements"
	"github.com/rcourtman/buttonclicker/internal/pending"
	"github.com/rcourtman/buttonclicker/internal/store/memstore"
	"github.com/rcourtman/buttonclicker/pkg/purchasing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var testSKUs = catalog.SKUs{
	Consumable:         "sku-consumable",
	Blue:               "sku-blue",
	Purple:             "sku-purple",
	Green:              "sku-green",
	ParentSubscription: "sku-sub",
	ChildSubscription:  "sku-sub-monthly",
}

type updatesCall struct {
	offset purchasing.Offset
}

// fakeBackend records requests and never delivers results on its own.
type fakeBackend struct {
	mu        sync.Mutex
	next      int
	purchases []string
	updates   []updatesCall
	userIDs   int
	itemData  [][]string
	failWith  error
}

func (b *fakeBackend) id() string {
	b.next++
	return fmt.Sprintf("req%d", b.next)
}

func (b *fakeBackend) GetUserID(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return "", b.failWith
	}
	b.userIDs++
	return b.id(), nil
}

func (b *fakeBackend) InitiatePurchase(_ context.Context, sku string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return "", b.failWith
	}
	b.purchases = append(b.purchases, sku)
	return b.id(), nil
}

func (b *fakeBackend) InitiatePurchaseUpdates(_ context.Context, offset purchasing.Offset) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return "", b.failWith
	}
	b.updates = append(b.updates, updatesCall{offset: offset})
	return b.id(), nil
}

func (b *fakeBackend) InitiateItemData(_ context.Context, skus []string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return "", b.failWith
	}
	b.itemData = append(b.itemData, skus)
	return b.id(), nil
}

func (b *fakeBackend) updateOffsets() []purchasing.Offset {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]purchasing.Offset, 0, len(b.updates))
	for _, u := range b.updates {
		out = append(out, u.offset)
	}
	return out
}

func (b *fakeBackend) fail(err error) {
	b.mu.Lock()
	b.failWith = err
	b.mu.Unlock()
}

var errOffline = errors.New("backend offline")

// recorder collects listener notifications.
type recorder struct {
	mu      sync.Mutex
	records []entitlements.Record
}

func (r *recorder) OnEntitlementsChanged(rec entitlements.Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *recorder) last() entitlements.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[len(r.records)-1]
}

type harness struct {
	rec      *Reconciler
	backend  *fakeBackend
	store    *memstore.Store
	listener *recorder
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:  &fakeBackend{},
		store:    memstore.New(),
		listener: &recorder{},
	}
	reg := pending.New(16, time.Hour)
	t.Cleanup(func() { reg.Close() })

	r, err := New(Options{
		Backend:  h.backend,
		Store:    h.store,
		Catalog:  catalog.MustNew(testSKUs),
		Pending:  reg,
		Listener: h.listener,
		Now:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	h.rec = r
	return h
}

func (h *harness) resolve(t *testing.T, userID string) {
	t.Helper()
	if err := h.rec.OnUserResolved(context.Background(), userID); err != nil {
		t.Fatalf("resolve %s: %v", userID, err)
	}
}

func (h *harness) snapshot(t *testing.T) entitlements.Record {
	t.Helper()
	rec, err := h.rec.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return rec
}

func date(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

func period(start time.Time, end *time.Time) *purchasing.SubscriptionPeriod {
	return &purchasing.SubscriptionPeriod{StartDate: start, EndDate: end}
}

func ptr[T any](v T) *T { return &v }

// captureLogs redirects the global logger into a buffer for the rest of the
// test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	return &buf
}
