package dashboard

import (
	"context"
	"errors"
	"net/http"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const MaxTradesLimit = 500

// Reader is the read side of the trade ledger.
type Reader interface {
	RecentTrades(ctx context.Context, limit int) ([]models.Trade, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Server exposes ledger statistics and session health over HTTP.
type Server struct {
	addr   string
	router *gin.Engine
	reader Reader
	state  func() string
	log    *logger.Logger
}

func NewServer(addr string, reader Reader, state func() string, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	s := &Server{
		addr:   addr,
		router: router,
		reader: reader,
		state:  state,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/trades", s.handleTrades)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithComponent("dashboard").WithField("addr", s.addr).Info("Панель запущена.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.WithComponent("dashboard").Info("Панель остановлена.")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	state := "UNKNOWN"
	if s.state != nil {
		state = s.state()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"session": state,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.reader.Stats(c.Request.Context())
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Error("Не удалось получить статистику.")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, newStatsView(stats))
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, MaxTradesLimit)
	}

	trades, err := s.reader.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Error("Не удалось получить сделки.")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trades unavailable"})
		return
	}
	c.JSON(http.StatusOK, newTradeViews(trades))
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithComponent("dashboard").WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("HTTP запрос.")
	}
}
