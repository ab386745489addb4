package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	recerrors "github.com/rcourtman/buttonclicker/internal/errors"
	"github.com/rcourtman/buttonclicker/internal/logging"
	"github.com/rs/zerolog/log"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	ErrorMessage string `json:"error"`
	Code         string `json:"code,omitempty"`
	StatusCode   int    `json:"status_code"`
	Timestamp    int64  `json:"timestamp"`
	RequestID    string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return e.ErrorMessage
}

// errorMapping translates reconciler failures into client-facing errors.
var errorMapping = []struct {
	target  error
	status  int
	code    string
	message string
}{
	{recerrors.ErrNoUser, http.StatusConflict, "no_user", "No user has been resolved yet"},
	{recerrors.ErrInvalidSKU, http.StatusBadRequest, "invalid_sku", "Unknown SKU"},
	{recerrors.ErrNotSubscribed, http.StatusForbidden, "subscription_required", "An active subscription is required"},
	{recerrors.ErrNoCredits, http.StatusConflict, "no_credits", "No clicks left"},
	{recerrors.ErrBackendFailure, http.StatusBadGateway, "backend_failure", "Purchasing backend unavailable"},
}

func apiErrorFor(err error) APIError {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return APIError{ErrorMessage: m.message, Code: m.code, StatusCode: m.status}
		}
	}
	return APIError{
		ErrorMessage: "An unexpected error occurred",
		Code:         "internal_error",
		StatusCode:   http.StatusInternalServerError,
	}
}

// ErrorHandler tags each request with an id, records route metrics and turns
// handler panics into 500 responses.
func ErrorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		ctx, requestID := logging.WithRequestID(r.Context(), strings.TrimSpace(r.Header.Get("X-Request-ID")))
		ctx = logging.WithLogger(ctx, logging.New("api"))
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		route := normalizeRoute(r.URL.Path)
		start := time.Now()

		logger := logging.FromContext(ctx)
		defer func() {
			if p := recover(); p != nil {
				logger.Error().
					Interface("panic", p).
					Str("route", route).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered in API handler")
				writeErrorResponse(rw, r, APIError{
					ErrorMessage: "An unexpected error occurred",
					Code:         "internal_error",
					StatusCode:   http.StatusInternalServerError,
				})
			}
			recordAPIRequest(r.Method, route, rw.status, time.Since(start))
			if rw.status >= http.StatusBadRequest {
				logger.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", rw.status).
					Msg("Request failed")
			}
		}()

		next.ServeHTTP(rw, r)
	})
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, apiErr APIError) {
	apiErr.Timestamp = time.Now().Unix()
	if r != nil {
		apiErr.RequestID = logging.GetRequestID(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	if err := json.NewEncoder(w).Encode(apiErr); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, APIError{ErrorMessage: message, Code: "invalid_body", StatusCode: http.StatusBadRequest})
}

// statusRecorder remembers the first status written.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	return hijacker.Hijack()
}
