package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/crmkit/taskbridge/internal/cache"
	"github.com/crmkit/taskbridge/internal/db/models"
	"github.com/crmkit/taskbridge/internal/webhook"
)

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Opportunity{}, &models.Config{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestProcessWebhookHandler_ContactOnlyAccepted(t *testing.T) {
	db := newHandlerDB(t)
	rec := webhook.NewReconciler(db, cache.NewTaskStore())
	handler := ProcessWebhookHandler(rec)

	req := httptest.NewRequest("POST", "/webhooks/opportunity", strings.NewReader(`{"email":"a@b.c"}`))
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var result webhook.Result
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Accepted || result.InferredEventType != "" {
		t.Errorf("expected accepted contact-only result, got %+v", result)
	}
}

func TestProcessWebhookHandler_CreatedEvent(t *testing.T) {
	db := newHandlerDB(t)
	rec := webhook.NewReconciler(db, cache.NewTaskStore())
	handler := ProcessWebhookHandler(rec)

	req := httptest.NewRequest("POST", "/webhooks/opportunity", strings.NewReader(`{"id":"opp-1","status":"open"}`))
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var result webhook.Result
	json.NewDecoder(w.Body).Decode(&result)
	if result.InferredEventType != webhook.EventCreated || result.OpportunityID != "opp-1" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestProcessWebhookHandler_MalformedPayloadFails(t *testing.T) {
	db := newHandlerDB(t)
	rec := webhook.NewReconciler(db, cache.NewTaskStore())
	handler := ProcessWebhookHandler(rec)

	req := httptest.NewRequest("POST", "/webhooks/opportunity", strings.NewReader(`{broken`))
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the CRM redelivers, got %d", w.Code)
	}
	var result map[string]interface{}
	json.NewDecoder(w.Body).Decode(&result)
	if accepted, _ := result["accepted"].(bool); accepted {
		t.Error("expected accepted=false")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	db := newHandlerDB(t)
	db.Create(&models.Config{Key: "api_key", Value: "tb-secret"})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := APIKeyAuth(db)(next)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{name: "missing key", setup: func(r *http.Request) {}, status: http.StatusUnauthorized},
		{name: "wrong key", setup: func(r *http.Request) { r.Header.Set("x-api-key", "nope") }, status: http.StatusUnauthorized},
		{name: "bearer key", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer tb-secret") }, status: http.StatusOK},
		{name: "x-api-key header", setup: func(r *http.Request) { r.Header.Set("x-api-key", "tb-secret") }, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/health", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			protected.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(next)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	seen = w.Header().Get("X-Request-ID")
	if len(seen) != 8 {
		t.Errorf("expected generated 8-char request id, got '%s'", seen)
	}

	req = httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("X-Request-ID", "client-id")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") != "client-id" {
		t.Errorf("expected client request id echoed, got '%s'", w.Header().Get("X-Request-ID"))
	}
}
