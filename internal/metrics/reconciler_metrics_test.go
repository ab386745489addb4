package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHelpersIncrementCounters(t *testing.T) {
	before := testutil.ToFloat64(PurchaseResultsTotal.WithLabelValues("successful"))
	RecordPurchaseResult("successful")
	if got := testutil.ToFloat64(PurchaseResultsTotal.WithLabelValues("successful")); got != before+1 {
		t.Fatalf("purchase results=%v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(UpdatePagesTotal.WithLabelValues("failed"))
	RecordUpdatePage("failed")
	if got := testutil.ToFloat64(UpdatePagesTotal.WithLabelValues("failed")); got != before+1 {
		t.Fatalf("update pages=%v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(StaleResultsTotal.WithLabelValues("purchase_updates"))
	RecordStaleResult("purchase_updates")
	if got := testutil.ToFloat64(StaleResultsTotal.WithLabelValues("purchase_updates")); got != before+1 {
		t.Fatalf("stale results=%v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(PendingEvictionsTotal.WithLabelValues("capacity"))
	RecordPendingEviction("capacity")
	if got := testutil.ToFloat64(PendingEvictionsTotal.WithLabelValues("capacity")); got != before+1 {
		t.Fatalf("evictions=%v, want %v", got, before+1)
	}
}
