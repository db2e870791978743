package apiapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	authsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/auth"
)

func TestRequireAdminAllowsAdmin(t *testing.T) {
	mw := RequireAdmin()

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/refunds", nil)
	req = req.WithContext(authsvc.WithIdentity(context.Background(), authsvc.Identity{
		UserID: 1,
		Role:   authsvc.RoleAdmin,
	}))
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusNoContent)
	}
}

func TestRequireAdminRejectsBuyerRole(t *testing.T) {
	mw := RequireAdmin()

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/refunds", nil)
	req = req.WithContext(authsvc.WithIdentity(context.Background(), authsvc.Identity{
		UserID: 2,
		Role:   "user",
	}))
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatalf("handler must not be called for non-admin role")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusForbidden)
	}
}

func TestRequireAdminRejectsAnonymous(t *testing.T) {
	mw := RequireAdmin()

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/refunds", nil)
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatalf("handler must not be called without identity")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestWebhookAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	mw := WebhookAuthMiddleware("gateway-secret", zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", nil)
	req.Header.Set("X-Webhook-Secret", "wrong")
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatalf("handler must not be called on secret mismatch")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestWebhookAuthMiddlewareAcceptsMatchingSecret(t *testing.T) {
	mw := WebhookAuthMiddleware("gateway-secret", zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", nil)
	req.Header.Set("X-Webhook-Secret", "gateway-secret")
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusNoContent)
	}
}

func TestWebhookAuthMiddlewareEmptySecretPassesThrough(t *testing.T) {
	mw := WebhookAuthMiddleware("", zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", nil)
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusNoContent)
	}
}
