// Package monitor exposes the kernel's observability surface over HTTP:
// liveness, process and machine introspection, and Prometheus metrics.
package monitor

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/TeachOS/internal/domain/proc"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/config"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TeachOS/internal/machine/mem"
	"github.com/GriffinCanCode/TeachOS/internal/machine/sched"
	"github.com/GriffinCanCode/TeachOS/internal/machine/vm"
)

// Server wraps the HTTP monitor and its dependencies.
type Server struct {
	router *gin.Engine
	procs  *proc.Manager
	sched  *sched.Scheduler
	alloc  *mem.Allocator
	mmu    *vm.MMU
	logger *logging.Logger
	config *config.Config
}

// NewServer builds the monitor router over the kernel's live components.
func NewServer(cfg *config.Config, logger *logging.Logger, procs *proc.Manager, s *sched.Scheduler, alloc *mem.Allocator, mmu *vm.MMU, reg *prometheus.Registry) *Server {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	srv := &Server{
		router: router,
		procs:  procs,
		sched:  s,
		alloc:  alloc,
		mmu:    mmu,
		logger: logger,
		config: cfg,
	}

	router.GET("/", srv.root)
	router.GET("/health", srv.health)
	router.GET("/processes", srv.processes)
	router.GET("/machine", srv.machine)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return srv
}

func (s *Server) root(c *gin.Context) {
	c.JSON(200, gin.H{
		"service": "teachos-monitor",
		"status":  "running",
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "healthy"})
}

func (s *Server) processes(c *gin.Context) {
	c.JSON(200, gin.H{"processes": s.procs.Snapshot()})
}

func (s *Server) machine(c *gin.Context) {
	c.JSON(200, gin.H{
		"threads":       s.sched.Count(),
		"pages_in_use":  s.alloc.InUse(),
		"address_space": s.mmu.String(),
	})
}

// Run serves the monitor until the listener fails.
func (s *Server) Run() error {
	addr := ":" + s.config.Monitor.Port
	s.logger.Info("Starting monitor server", zap.String("addr", addr))
	return s.router.Run(addr)
}
