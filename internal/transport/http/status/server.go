// Package statushttp serves health, engine status, stored model summaries
// and Prometheus metrics.
package statushttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"mlbot/internal/logger"
	"mlbot/internal/store"
	"mlbot/internal/strategy"

	"github.com/gin-gonic/gin"
)

const DefaultAddr = ":9991"

type ServerConfig struct {
	Addr    string
	Symbol  string
	Status  func() strategy.Status
	Models  store.ModelRepository
	Metrics http.Handler
}

type Server struct {
	addr   string
	router *gin.Engine
}

// ModelSummary is a stored artifact without its blob.
type ModelSummary struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Interval    string    `json:"interval"`
	Kind        string    `json:"kind"`
	Samples     int       `json:"samples"`
	TrainMillis int64     `json:"train_ms"`
	WindowStart int64     `json:"window_start"`
	WindowEnd   int64     `json:"window_end"`
	TrainedAt   time.Time `json:"trained_at"`
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Status == nil {
		return nil, errors.New("status http server requires a status source")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.Status())
	})
	if cfg.Models != nil {
		router.GET("/models", listModels(cfg.Models, cfg.Symbol))
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return &Server{addr: cfg.Addr, router: router}, nil
}

func listModels(repo store.ModelRepository, defaultSymbol string) gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.DefaultQuery("symbol", defaultSymbol)
		limit := 10
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		rows, err := repo.ListRecent(c.Request.Context(), symbol, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]ModelSummary, 0, len(rows))
		for _, r := range rows {
			out = append(out, ModelSummary{
				ID:          r.ID,
				Symbol:      r.Symbol,
				Interval:    r.Interval,
				Kind:        r.Kind,
				Samples:     r.Samples,
				TrainMillis: r.TrainMillis,
				WindowStart: r.WindowStart,
				WindowEnd:   r.WindowEnd,
				TrainedAt:   r.TrainedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"symbol": symbol, "models": out})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] status server listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
