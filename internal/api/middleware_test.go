package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/poolwarden/poolwarden/internal/metrics"
)

func newAuthRouter(apiKey string) *gin.Engine {
	r := gin.New()
	r.Use(APIKeyAuth(apiKey))
	r.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func TestAPIKeyAuth_NoKeyConfigured(t *testing.T) {
	router := newAuthRouter("")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d without configured key, got %d", http.StatusOK, w.Code)
	}
}

func TestAPIKeyAuth_ValidHeader(t *testing.T) {
	router := newAuthRouter("secret-key")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "secret-key")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d with valid header, got %d", http.StatusOK, w.Code)
	}
}

func TestAPIKeyAuth_ValidQueryParam(t *testing.T) {
	router := newAuthRouter("secret-key")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected?api_key=secret-key", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d with valid query param, got %d", http.StatusOK, w.Code)
	}
}

func TestAPIKeyAuth_InvalidKey(t *testing.T) {
	router := newAuthRouter("secret-key")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d with invalid key, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAPIKeyAuth_MissingKey(t *testing.T) {
	router := newAuthRouter("secret-key")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d with missing key, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAPIKeyAuth_HeaderTakesPrecedence(t *testing.T) {
	router := newAuthRouter("secret-key")

	// Valid header wins even with a bogus query parameter present.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected?api_key=wrong", nil)
	req.Header.Set("X-API-Key", "secret-key")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestRequestMetrics(t *testing.T) {
	m := metrics.NewCollector()

	r := gin.New()
	r.Use(RequestMetrics(m))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/ping", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	// The observation must be visible through the scrape handler.
	scrape := httptest.NewRecorder()
	scrapeReq, _ := http.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(scrape, scrapeReq)

	if scrape.Code != http.StatusOK {
		t.Errorf("metrics handler status = %d, want %d", scrape.Code, http.StatusOK)
	}
	if body := scrape.Body.String(); !strings.Contains(body, "poolwarden_http_request_duration_seconds") {
		t.Error("request duration metric missing from scrape output")
	}
}
