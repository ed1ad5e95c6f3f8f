package escrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rmarchiori/gameswap/internal/identity"
)

func newTestRouter(f *fixture, p *identity.Principal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(identity.ContextKeyPrincipal, p)
		c.Next()
	})
	h := NewHandler(f.engine)
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	h.RegisterAdminRoutes(v1.Group("/admin"))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var parsed map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	return w, parsed
}

func TestHandler_CompleteAndGet(t *testing.T) {
	f := newFixture(t)
	txn := f.settle(t)
	r := newTestRouter(f, &identity.Principal{UserID: "buyer"})

	w, body := doJSON(t, r, http.MethodPost, "/v1/transactions/"+txn.ID+"/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body %s", w.Code, w.Body.String())
	}
	got := body["transaction"].(map[string]any)
	if got["status"] != string(StatusCompleted) {
		t.Errorf("status = %v, want completed", got["status"])
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/me/transactions", "")
	if w.Code != http.StatusOK {
		t.Errorf("list status = %d", w.Code)
	}
}

func TestHandler_DisputeValidation(t *testing.T) {
	f := newFixture(t)
	txn := f.settle(t)
	r := newTestRouter(f, &identity.Principal{UserID: "buyer"})

	w, _ := doJSON(t, r, http.MethodPost, "/v1/transactions/"+txn.ID+"/dispute", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("dispute without reason status = %d, want 400", w.Code)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/v1/transactions/"+txn.ID+"/dispute", `{"reason":"not as described"}`)
	if w.Code != http.StatusOK {
		t.Errorf("dispute status = %d, body %s", w.Code, w.Body.String())
	}

	// Already disputed.
	w, body := doJSON(t, r, http.MethodPost, "/v1/transactions/"+txn.ID+"/dispute", `{"reason":"again"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("double dispute status = %d, want 409", w.Code)
	}
	if body["error"] != "invalid_state" {
		t.Errorf("error code = %v", body["error"])
	}
}

func TestHandler_StrangerIsForbidden(t *testing.T) {
	f := newFixture(t)
	txn := f.settle(t)
	r := newTestRouter(f, &identity.Principal{UserID: "stranger"})

	w, _ := doJSON(t, r, http.MethodGet, "/v1/transactions/"+txn.ID, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("get status = %d, want 403", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodPost, "/v1/transactions/"+txn.ID+"/complete", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("complete status = %d, want 403", w.Code)
	}
}

func TestHandler_AdminResolve(t *testing.T) {
	f := newFixture(t)
	txn := f.settle(t)
	if _, err := f.engine.Dispute(context.Background(), txn.ID, "buyer", "broken"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}
	r := newTestRouter(f, &identity.Principal{UserID: "adm", Role: identity.RoleAdmin})

	w, _ := doJSON(t, r, http.MethodPost, "/v1/admin/transactions/"+txn.ID+"/resolve", `{"outcome":"keep"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad outcome status = %d, want 400", w.Code)
	}

	w, body := doJSON(t, r, http.MethodPost, "/v1/admin/transactions/"+txn.ID+"/resolve", `{"outcome":"refund"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body %s", w.Code, w.Body.String())
	}
	got := body["transaction"].(map[string]any)
	if got["status"] != string(StatusRefunded) {
		t.Errorf("status = %v, want refunded", got["status"])
	}
}

func TestHandler_NotFound(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f, &identity.Principal{UserID: "buyer"})

	w, _ := doJSON(t, r, http.MethodGet, "/v1/transactions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandler_ListSideFilter(t *testing.T) {
	f := newFixture(t)
	f.settle(t) // buyer bought prod_1 from seller

	sellerView := newTestRouter(f, &identity.Principal{UserID: "seller"})

	w, body := doJSON(t, sellerView, http.MethodGet, "/v1/me/transactions?type=sales", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sales status = %d, body %s", w.Code, w.Body.String())
	}
	if got := body["transactions"].([]any); len(got) != 1 {
		t.Errorf("seller sales = %d, want 1", len(got))
	}

	w, body = doJSON(t, sellerView, http.MethodGet, "/v1/me/transactions?type=purchases", "")
	if w.Code != http.StatusOK {
		t.Fatalf("purchases status = %d", w.Code)
	}
	if got := body["transactions"].([]any); len(got) != 0 {
		t.Errorf("seller purchases = %d, want 0", len(got))
	}

	w, body = doJSON(t, sellerView, http.MethodGet, "/v1/me/transactions?type=basket", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bogus type status = %d, want 400", w.Code)
	}
	if body["error"] != "invalid_type" {
		t.Errorf("error = %v, want invalid_type", body["error"])
	}
}
