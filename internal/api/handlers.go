package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rcourtman/buttonclicker/internal/logging"
	"github.com/rcourtman/buttonclicker/internal/utils"
	"github.com/rs/zerolog/log"
)

const maxRequestBody = 4 << 10

// HealthResponse reports reconciler liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Phase   string `json:"phase"`
	UserID  string `json:"user_id,omitempty"`
	Clients int    `json:"clients"`
	Version string `json:"version,omitempty"`
}

// PurchaseRequest is the body of POST /api/purchases.
type PurchaseRequest struct {
	SKU string `json:"sku"`
}

// PurchaseResponse acknowledges a started purchase. The outcome arrives
// asynchronously through the entitlement stream.
type PurchaseResponse struct {
	RequestID string `json:"request_id"`
	SKU       string `json:"sku"`
}

// ClickResponse is the body returned by POST /api/clicks.
type ClickResponse struct {
	Credits int64 `json:"credits"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Phase:   string(r.rec.Phase()),
		UserID:  r.rec.UserID(),
		Version: r.version,
	}
	if r.clients != nil {
		resp.Clients = r.clients.GetClientCount()
	}
	r.writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleEntitlements(w http.ResponseWriter, req *http.Request) {
	rec, err := r.rec.Snapshot(req.Context())
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeJSON(w, http.StatusOK, rec)
}

func (r *Router) handlePurchase(w http.ResponseWriter, req *http.Request) {
	var body PurchaseRequest
	dec := json.NewDecoder(io.LimitReader(req.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		badRequest(w, req, "Request body must be {\"sku\": \"...\"}")
		return
	}
	body.SKU = strings.TrimSpace(body.SKU)
	if body.SKU == "" {
		badRequest(w, req, "sku is required")
		return
	}

	requestID, err := r.rec.Purchase(req.Context(), body.SKU)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeJSON(w, http.StatusAccepted, PurchaseResponse{RequestID: requestID, SKU: body.SKU})
}

func (r *Router) handleClick(w http.ResponseWriter, req *http.Request) {
	credits, err := r.rec.ConsumeCredit(req.Context())
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeJSON(w, http.StatusOK, ClickResponse{Credits: credits})
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	if err := utils.WriteJSONStatus(w, status, data); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// writeError reports a reconciler failure. Unexpected errors are logged with
// the request id; the client only sees the generic message.
func (r *Router) writeError(w http.ResponseWriter, req *http.Request, err error) {
	apiErr := apiErrorFor(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		logger := logging.FromContext(req.Context())
		logger.Error().Err(err).Msg("Reconciler request failed")
	}
	writeErrorResponse(w, req, apiErr)
}
