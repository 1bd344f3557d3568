package connections

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/gorilla/mux"
)

func callbackRouter(t *testing.T) (*mux.Router, *Service) {
	t.Helper()
	adapter := &stubAdapter{platform: models.PlatformDoorDash, oauth: true, issuedExpiry: time.Now().Add(time.Hour)}
	svc, _, _ := testService(t, adapter)
	router := mux.NewRouter()
	NewHTTPHandler(svc, "https://app.example.com/settings").Register(router)
	return router, svc
}

func redirectQuery(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect location: %v", err)
	}
	return loc.Query()
}

// Some upstreams deliver the callback as a form-encoded POST rather than a
// GET with query parameters. Both must land the connection.
func TestCallbackAcceptsFormEncodedPost(t *testing.T) {
	router, svc := callbackRouter(t)

	if _, err := svc.InitiateOAuth(context.Background(), "user-1", "doordash"); err != nil {
		t.Fatalf("InitiateOAuth: %v", err)
	}

	form := url.Values{}
	form.Set("code", "the-code")
	form.Set("state", "state-1")
	req := httptest.NewRequest("POST", "/oauth/doordash/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	q := redirectQuery(t, rec)
	if q.Get("success") != "true" || q.Get("platform") != "doordash" {
		t.Fatalf("redirect query = %v, want success=true&platform=doordash", q)
	}
}

func TestCallbackAcceptsQueryGet(t *testing.T) {
	router, svc := callbackRouter(t)

	if _, err := svc.InitiateOAuth(context.Background(), "user-1", "doordash"); err != nil {
		t.Fatalf("InitiateOAuth: %v", err)
	}

	req := httptest.NewRequest("GET", "/oauth/doordash/callback?code=the-code&state=state-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	q := redirectQuery(t, rec)
	if q.Get("success") != "true" {
		t.Fatalf("redirect query = %v, want success=true", q)
	}
}

func TestCallbackRejectsMissingCode(t *testing.T) {
	router, _ := callbackRouter(t)

	req := httptest.NewRequest("POST", "/oauth/doordash/callback", strings.NewReader("state=state-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	q := redirectQuery(t, rec)
	if q.Get("error") != "invalid_request" {
		t.Fatalf("redirect query = %v, want error=invalid_request", q)
	}
}
