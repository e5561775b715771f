package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"mnemo/internal/domain"
	"mnemo/internal/usecase"
)

// Memory is the part of the memory use case the API exposes.
type Memory interface {
	Save(ctx context.Context, req domain.SaveRequest) domain.SaveResult
	Recall(ctx context.Context, query string, topK int) domain.RecallResult
	Inspect(ctx context.Context, ids []string) ([]domain.MemoryRecord, error)
	Forget(ctx context.Context, ids []string) error
	Stats(ctx context.Context) (domain.IndexStats, error)
	Health(ctx context.Context) domain.HealthReport
	Recent(limit int) ([]domain.CachedMemory, error)
}

// Server is the JSON API over the memory layer. Save and recall always
// answer 200 with a typed result; degraded outcomes live in the body.
type Server struct {
	echo   *echo.Echo
	memory Memory
	pack   *usecase.PackUseCase
	budget int
	logger *slog.Logger
}

func New(memory Memory, pack *usecase.PackUseCase, budget int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, memory: memory, pack: pack, budget: budget, logger: logger}

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			logger.Debug("request", attrs...)
			return nil
		},
	}))

	e.GET("/healthz", s.health)
	api := e.Group("/api/v1")
	api.POST("/memories", s.save)
	api.GET("/memories", s.recent)
	api.POST("/memories/recall", s.recall)
	api.GET("/memories/:id", s.fetch)
	api.DELETE("/memories/:id", s.forget)
	api.GET("/index/stats", s.stats)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("api stopped")
	return nil
}

type recallRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"topK"`
	Pack   bool   `json:"pack"`
	Budget int    `json:"budget"`
}

type recallResponse struct {
	domain.RecallResult
	Context *domain.PackedContext `json:"context,omitempty"`
	Prompt  string                `json:"prompt,omitempty"`
}

func (s *Server) save(c echo.Context) error {
	var req domain.SaveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid save request").SetInternal(err)
	}
	return c.JSON(http.StatusOK, s.memory.Save(c.Request().Context(), req))
}

func (s *Server) recall(c echo.Context) error {
	var req recallRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid recall request").SetInternal(err)
	}

	res := recallResponse{RecallResult: s.memory.Recall(c.Request().Context(), req.Query, req.TopK)}
	if req.Pack && s.pack != nil {
		budget := req.Budget
		if budget <= 0 {
			budget = s.budget
		}
		packed := s.pack.Pack(req.Query, res.RecallResult, budget)
		res.Context = &packed
		res.Prompt = s.pack.Render(packed)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) fetch(c echo.Context) error {
	records, err := s.memory.Inspect(c.Request().Context(), []string{c.Param("id")})
	if err != nil {
		return indexError(err)
	}
	if len(records) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "memory not found")
	}
	return c.JSON(http.StatusOK, records[0])
}

func (s *Server) forget(c echo.Context) error {
	if err := s.memory.Forget(c.Request().Context(), []string{c.Param("id")}); err != nil {
		return indexError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) recent(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	items, err := s.memory.Recent(limit)
	if errors.Is(err, usecase.ErrNoCache) {
		return echo.NewHTTPError(http.StatusNotFound, "display cache is disabled")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "read display cache").SetInternal(err)
	}
	if items == nil {
		items = []domain.CachedMemory{}
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) stats(c echo.Context) error {
	stats, err := s.memory.Stats(c.Request().Context())
	if err != nil {
		return indexError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) health(c echo.Context) error {
	report := s.memory.Health(c.Request().Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func indexError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrIndexUnauthorized):
		return echo.NewHTTPError(http.StatusBadGateway, "vector index rejected credentials").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}
}
