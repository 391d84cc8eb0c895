package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusServer exposes health, readiness, session status, metrics and the
// event stream over HTTP.
type StatusServer struct {
	router    *gin.Engine
	srv       *http.Server
	health    *HealthChecker
	hub       *EventHub
	status    func() domain.SessionStatus
	startTime time.Time
	logger    *zap.SugaredLogger
}

// NewStatusServer builds the router. metrics may be nil to leave /metrics
// unregistered. extra middleware runs after recovery and access logging.
func NewStatusServer(
	address string,
	health *HealthChecker,
	hub *EventHub,
	status func() domain.SessionStatus,
	metrics http.Handler,
	logger *zap.SugaredLogger,
	extra ...gin.HandlerFunc,
) *StatusServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.AccessLog(logger))
	router.Use(extra...)

	s := &StatusServer{
		router:    router,
		health:    health,
		hub:       hub,
		status:    status,
		startTime: time.Now(),
		logger:    logger,
	}

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/status", s.handleStatus)
	router.GET("/ws/events", gin.WrapF(hub.HandleWebSocket))
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	s.srv = &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Start serves in the background. The returned channel yields the error
// that stopped the server, if any.
func (s *StatusServer) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Infow("status server listening", "address", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return err
	}
	return nil
}

func (s *StatusServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *StatusServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := s.health.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *StatusServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session":     s.status(),
		"events":      s.hub.Recent(),
		"subscribers": s.hub.ClientCount(),
	})
}
