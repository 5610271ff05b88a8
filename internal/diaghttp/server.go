// Package diaghttp provides the bridge's diagnostic HTTP endpoint:
// liveness, the supervisor's child table, and Prometheus metrics. It is
// deliberately not a control plane; every route is read-only, and
// bridged only serves it when an address is configured.
package diaghttp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GratefulDave/stravinsky-sub003/internal/supervisor"
)

// Config holds the diagnostic server's listen address and reported
// version string.
type Config struct {
	Addr    string
	Version string
}

// Server serves the diagnostic routes over echo.
type Server struct {
	echo       *echo.Echo
	supervisor *supervisor.Supervisor
	logger     *zap.Logger
	config     Config
	registry   *prometheus.Registry
}

// NewServer builds a Server around sup. A nil logger is equivalent to
// zap.NewNop().
func NewServer(sup *supervisor.Supervisor, logger *zap.Logger, cfg Config) (*Server, error) {
	if sup == nil {
		return nil, fmt.Errorf("supervisor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "bridgeorch_supervisor_children_running",
		Help: "Child agent processes currently in Running status.",
	}, func() float64 {
		var running float64
		for _, h := range sup.List() {
			if h.Status() == supervisor.ChildRunning {
				running++
			}
		}
		return running
	}))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "bridgeorch_supervisor_children_tracked",
		Help: "Child handles currently tracked by the supervisor, any status.",
	}, func() float64 {
		return float64(len(sup.List()))
	}))

	s := &Server{echo: e, supervisor: sup, logger: logger, config: cfg, registry: registry}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/readyz", s.handleHealth)
	s.echo.GET("/api/v1/children", s.handleChildren)
	s.echo.GET("/api/v1/summary", s.handleSummary)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.config.Version,
	})
}

// childView is the JSON shape of one supervisor handle.
type childView struct {
	HandleID   string `json:"handle_id"`
	TaskID     string `json:"task_id"`
	Kind       string `json:"kind"`
	ParentKind string `json:"parent_kind"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleChildren(c echo.Context) error {
	children := s.supervisor.List()
	out := make([]childView, 0, len(children))
	for _, h := range children {
		view := childView{
			HandleID:   h.ID,
			TaskID:     h.TaskID,
			Kind:       h.Kind,
			ParentKind: h.ParentKind,
			Status:     string(h.Status()),
		}
		if err := h.Err(); err != nil {
			view.Error = err.Error()
		}
		out = append(out, view)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSummary(c echo.Context) error {
	counts := make(map[string]int)
	for _, h := range s.supervisor.List() {
		counts[string(h.Status())]++
	}
	return c.JSON(http.StatusOK, map[string]any{
		"version":  s.config.Version,
		"children": counts,
	})
}

// Start serves until the listener fails. It blocks; callers run it in a
// goroutine and pair it with Shutdown.
func (s *Server) Start() error {
	s.logger.Info("diagnostic server starting", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("diagnostic server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests for up to 5 seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
