package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterPerAccount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(time.Second)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("account_id"))
	})

	call := func(account string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if account != "" {
			req.Header.Set(AccountHeader, account)
		}
		r.ServeHTTP(w, req)
		return w
	}

	if w := call(""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing header: got %d", w.Code)
	}
	if w := call("a"); w.Code != http.StatusOK || w.Body.String() != "a" {
		t.Fatalf("first request: got %d %q", w.Code, w.Body.String())
	}
	if w := call("a"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d", w.Code)
	}
	if w := call("b"); w.Code != http.StatusOK {
		t.Fatalf("other account: got %d", w.Code)
	}
	now = now.Add(time.Second)
	if w := call("a"); w.Code != http.StatusOK {
		t.Fatalf("after interval: got %d", w.Code)
	}
}
