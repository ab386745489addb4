package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteJSONResponse(rec, map[string]int{"credits": 5}); err != nil {
		t.Fatalf("WriteJSONResponse: %v", err)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
	if got := rec.Body.String(); got != `{"credits":5}` {
		t.Fatalf("body = %q", got)
	}
}

func TestWriteJSONStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteJSONStatus(rec, http.StatusAccepted, map[string]string{"sku": "x"}); err != nil {
		t.Fatalf("WriteJSONStatus: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	if err := WriteJSONStatus(rec, http.StatusOK, make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if rec.Header().Get("Content-Type") != "" {
		t.Fatal("headers must not be written when marshalling fails")
	}
}
