package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rcourtman/buttonclicker/internal/entitlements"
	recerrors "github.com/rcourtman/buttonclicker/internal/errors"
	"github.com/rcourtman/buttonclicker/internal/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReconciler struct {
	rec         entitlements.Record
	snapshotErr error
	purchaseErr error
	clickErr    error
	credits     int64
	purchased   []string
}

func (f *fakeReconciler) Snapshot(context.Context) (entitlements.Record, error) {
	return f.rec, f.snapshotErr
}

func (f *fakeReconciler) Purchase(_ context.Context, sku string) (string, error) {
	if f.purchaseErr != nil {
		return "", f.purchaseErr
	}
	f.purchased = append(f.purchased, sku)
	return fmt.Sprintf("req%d", len(f.purchased)), nil
}

func (f *fakeReconciler) ConsumeCredit(context.Context) (int64, error) {
	return f.credits, f.clickErr
}

func (f *fakeReconciler) Phase() reconciler.Phase { return reconciler.PhaseSettled }
func (f *fakeReconciler) UserID() string          { return f.rec.UserID }

type fixedClients int

func (c fixedClients) GetClientCount() int { return int(c) }

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHealth(t *testing.T) {
	fake := &fakeReconciler{rec: entitlements.Record{UserID: "alice"}}
	h := NewRouter(Options{Reconciler: fake, Clients: fixedClients(3), Version: "1.2.3"})

	rec := serve(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{Status: "ok", Phase: "settled", UserID: "alice", Clients: 3, Version: "1.2.3"}, resp)
}

func TestEntitlements(t *testing.T) {
	fake := &fakeReconciler{rec: entitlements.Record{UserID: "alice", Credits: 15, Blue: true, Offset: "off1"}}
	h := NewRouter(Options{Reconciler: fake})

	rec := serve(t, h, http.MethodGet, "/api/entitlements", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got entitlements.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, fake.rec, got)

	fake.snapshotErr = recerrors.ErrNoUser
	rec = serve(t, h, http.MethodGet, "/api/entitlements", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_user", decodeError(t, rec).Code)
}

func TestPurchase(t *testing.T) {
	fake := &fakeReconciler{}
	h := NewRouter(Options{Reconciler: fake})

	rec := serve(t, h, http.MethodPost, "/api/purchases", `{"sku":" sku-blue "}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp PurchaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, PurchaseResponse{RequestID: "req1", SKU: "sku-blue"}, resp)
	assert.Equal(t, []string{"sku-blue"}, fake.purchased)
}

func TestPurchaseErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"malformed body", `{"sku":`, nil, http.StatusBadRequest, "invalid_body"},
		{"unknown field", `{"sku":"a","qty":2}`, nil, http.StatusBadRequest, "invalid_body"},
		{"missing sku", `{}`, nil, http.StatusBadRequest, "invalid_body"},
		{"invalid sku", `{"sku":"nope"}`, recerrors.New(recerrors.ErrorTypeInvalidSKU, "initiate_purchase", "", errors.New("x")), http.StatusBadRequest, "invalid_sku"},
		{"backend down", `{"sku":"a"}`, recerrors.WrapBackendError("initiate_purchase", "alice", errors.New("offline")), http.StatusBadGateway, "backend_failure"},
		{"unexpected", `{"sku":"a"}`, errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(Options{Reconciler: &fakeReconciler{purchaseErr: tt.err}})
			rec := serve(t, h, http.MethodPost, "/api/purchases", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			apiErr := decodeError(t, rec)
			assert.Equal(t, tt.wantErr, apiErr.Code)
			assert.NotEmpty(t, apiErr.RequestID)
		})
	}
}

func TestClicks(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"ok", nil, http.StatusOK},
		{"not subscribed", recerrors.ErrNotSubscribed, http.StatusForbidden},
		{"no credits", recerrors.ErrNoCredits, http.StatusConflict},
		{"store failure", recerrors.WrapStoreError("consume_credit", "alice", errors.New("disk full")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(Options{Reconciler: &fakeReconciler{credits: 4, clickErr: tt.err}})
			rec := serve(t, h, http.MethodPost, "/api/clicks", "")
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.err == nil {
				var resp ClickResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, int64(4), resp.Credits)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewRouter(Options{Reconciler: &fakeReconciler{}})
	rec := serve(t, h, http.MethodGet, "/api/clicks", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	h := NewRouter(Options{Reconciler: &fakeReconciler{}})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-42", rec.Header().Get("X-Request-ID"))
}

func TestPanicRecovery(t *testing.T) {
	h := ErrorHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := serve(t, h, http.MethodGet, "/api/entitlements", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(Options{Reconciler: &fakeReconciler{}})
	serve(t, h, http.MethodGet, "/api/health", "")

	rec := serve(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "buttonclicker_http_requests_total")
}

func TestNormalizeRoute(t *testing.T) {
	assert.Equal(t, "/api/clicks", normalizeRoute("/api/clicks"))
	assert.Equal(t, "/api/other", normalizeRoute("/api/users/123"))
	assert.Equal(t, "/other", normalizeRoute("/favicon.ico"))
}
