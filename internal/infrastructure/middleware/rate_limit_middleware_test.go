package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handlers...)
	router.GET("/status", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func get(router http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w
}

// Test that a zero config lets all requests through.
func TestRateLimit_Disabled_AllowsRequests(t *testing.T) {
	router := newTestRouter(RateLimit(RateLimitConfig{}))

	for i := 0; i < 5; i++ {
		if w := get(router, "10.0.0.1:5000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, w.Code)
		}
	}
}

// Test basic per-IP rate limiting behaviour.
func TestRateLimit_PerClient(t *testing.T) {
	router := newTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	if w := get(router, "10.0.0.1:5000"); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", w.Code)
	}

	w := get(router, "10.0.0.1:5001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second request, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", w.Header().Get("Retry-After"))
	}

	// Another client has its own bucket
	if w := get(router, "10.0.0.2:5000"); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for other client, got %d", w.Code)
	}
}

func TestRateLimit_MaxConcurrent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	release := make(chan struct{})
	entered := make(chan struct{})

	router := gin.New()
	router.Use(RateLimit(RateLimitConfig{MaxConcurrent: 1}))
	router.GET("/slow", func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	})
	router.GET("/status", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
		done <- w.Code
	}()
	<-entered

	if w := get(router, "10.0.0.1:5000"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 while saturated, got %d", w.Code)
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected slow request to finish with 200, got %d", code)
	}
	if w := get(router, "10.0.0.1:5000"); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 after release, got %d", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery(zapNop()), AccessLog(zapNop()), Tracing())
	router.GET("/boom", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
}

func TestTracing_PassesThrough(t *testing.T) {
	router := newTestRouter(Tracing())
	if w := get(router, "10.0.0.1:5000"); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func zapNop() *zap.SugaredLogger { return zap.NewNop().Sugar() }
