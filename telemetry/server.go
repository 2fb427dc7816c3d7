package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hadv/powminer/logger"
	"github.com/hadv/powminer/miningstate"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Server serves the status document and prometheus metrics
type Server struct {
	addr     string
	version  string
	state    *miningstate.State
	devices  Devices
	stats    PoolStats
	registry *prometheus.Registry
	engine   *gin.Engine
	logger   zerolog.Logger
}

// NewServer builds the HTTP handlers; nothing listens until Run
func NewServer(addr, version string, state *miningstate.State, devices Devices, stats PoolStats, log zerolog.Logger) *Server {
	s := &Server{
		addr:     addr,
		version:  version,
		state:    state,
		devices:  devices,
		stats:    stats,
		registry: prometheus.NewRegistry(),
		logger:   logger.Component(log, "telemetry"),
	}
	s.registry.MustRegister(
		newCollector(state, devices, stats),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	})
	engine.GET("/", s.handleStatus)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	s.engine = engine

	return s
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, collect(s.state, s.devices, s.stats, s.version))
}

// Run listens until ctx is done, then shuts the server down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "telemetry failed to listen on %s", s.addr)
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("telemetry listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "telemetry server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "telemetry shutdown")
	}
	return nil
}
