package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersAndPathLabels(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())

	// A matched route labels by its pattern, not the concrete URL.
	r.GET("/conversations/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "{}")
	})
	// A bodiless response leaves size at -1, which the size histogram skips.
	r.GET("/typing", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// Snapshot before driving traffic so other tests in the package cannot
	// skew the deltas.
	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/conversations/:id", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/c42", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /conversations/c42 -> %d", w.Code)
	}

	// Unmatched routes fall back to the raw URL path label.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope -> %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/typing", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("GET /typing -> %d", w.Code)
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/conversations/:id", "200")); got != baseOK+1 {
		t.Fatalf("matched-route counter = %v, want %v", got, baseOK+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404")); got != base404+1 {
		t.Fatalf("fallback-path counter = %v, want %v", got, base404+1)
	}

	// All requests finished, so nothing should remain in flight.
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v, want 0", inFlight)
	}
}
