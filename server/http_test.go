package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"gitlab.com/paramountdax-exchange/referral_api/actions"
	"gitlab.com/paramountdax-exchange/referral_api/config"
	"gitlab.com/paramountdax-exchange/referral_api/queries/memstore"
	"gitlab.com/paramountdax-exchange/referral_api/service"
	"gitlab.com/paramountdax-exchange/referral_api/service/referral_tree"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	store := memstore.New()
	store.AddUsers(1, 2)
	cfg := config.Config{
		Server:         config.ServerConfig{Debug: config.DebugConfig{AllowedIPs: "127.0.0.1/32"}},
		ReferralConfig: config.ReferralsConfig{L1: 10, L2: 5, L3: 2.5},
	}
	return NewRouter(cfg, actions.NewActions(cfg, service.New(cfg, store, store, nil, referral_tree.LogAuditSink{})))
}

func TestRouter(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name    string
		method  string
		path    string
		forward string
		code    int
	}{
		{name: "ping", method: http.MethodGet, path: "/ping", code: http.StatusOK},
		{name: "tree of a known root", method: http.MethodGet, path: "/trees/1/structure", code: http.StatusOK},
		{name: "tree of an unknown root", method: http.MethodGet, path: "/trees/77/structure", code: http.StatusNotFound},
		{name: "mutations need an actor", method: http.MethodDelete, path: "/referrals/2", code: http.StatusUnauthorized},
		{name: "state changes need an actor", method: http.MethodPut, path: "/referrals/2/state", code: http.StatusUnauthorized},
		{name: "statistics of an unknown root", method: http.MethodGet, path: "/trees/77/statistics", code: http.StatusNotFound},
		{name: "integrity from an allowed address", method: http.MethodGet, path: "/debug/referrals/integrity", forward: "127.0.0.1", code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.forward != "" {
				req.Header.Set("X-Forwarded-For", tt.forward)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			assert.NotEqual(t, "", w.Header().Get("X-Request-Id"))
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/referrals/integrity", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEqual(t, http.StatusOK, w.Code)
}
