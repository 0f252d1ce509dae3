package main

import (
	"flag"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/TeachOS/internal/domain/loader"
	"github.com/GriffinCanCode/TeachOS/internal/domain/proc"
	"github.com/GriffinCanCode/TeachOS/internal/domain/syscall"
	"github.com/GriffinCanCode/TeachOS/internal/domain/usermode"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/config"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TeachOS/internal/machine/filestore"
	"github.com/GriffinCanCode/TeachOS/internal/machine/mem"
	"github.com/GriffinCanCode/TeachOS/internal/machine/sched"
	"github.com/GriffinCanCode/TeachOS/internal/machine/vm"
	"github.com/GriffinCanCode/TeachOS/internal/monitor"
	"github.com/GriffinCanCode/TeachOS/internal/shared/id"
)

func main() {
	manifestPath := flag.String("manifest", "", "Boot manifest (TOML); empty runs the built-in demo")
	flag.Parse()

	cfg := config.LoadOrDefault()

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	bootID := id.NewBootID()
	logger.Info("Booting",
		zap.String("boot_id", bootID.String()),
		zap.Int("user_pages", cfg.Machine.UserPages),
		zap.Int("max_threads", cfg.Machine.MaxThreads),
	)

	reg := prometheus.NewRegistry()
	metrics := monitoring.New(reg)

	alloc := mem.NewAllocator(cfg.Machine.UserPages)
	alloc.OnChange = func(used int) {
		metrics.UserPagesInUse.Set(float64(used))
	}
	mmu := vm.NewMMU()
	store := filestore.NewStore()

	scheduler := sched.New(sched.Config{
		MaxThreads:   cfg.Machine.MaxThreads,
		TickInterval: cfg.Machine.TickInterval,
	})
	scheduler.Run()
	defer scheduler.Stop()

	sw := usermode.New()
	procs := proc.NewManager(proc.Options{
		Sched:    scheduler,
		Alloc:    alloc,
		MMU:      mmu,
		Loader:   loader.New(store, alloc, logger),
		UserMode: sw,
		Console:  os.Stdout,
		Log:      logger,
		Metrics:  metrics,
	})

	halted := make(chan struct{})
	sw.Bind(syscall.New(syscall.Options{
		Procs:   procs,
		Store:   store,
		Console: os.Stdout,
		Halt:    func() { close(halted) },
		Log:     logger,
		Metrics: metrics,
	}))

	registerBuiltins(sw, store)

	initCmd := "init"
	if *manifestPath != "" {
		m, err := config.LoadManifest(*manifestPath)
		if err != nil {
			logger.Fatal("Failed to load boot manifest", zap.Error(err))
		}
		for _, f := range m.Files {
			data, err := os.ReadFile(f.Path)
			if err != nil {
				logger.Fatal("Failed to preload file",
					zap.String("name", f.Name),
					zap.Error(err))
			}
			store.Put(f.Name, data)
		}
		if m.Init != "" {
			initCmd = m.Init
		}
	}

	if cfg.Monitor.Enabled {
		srv := monitor.NewServer(cfg, logger, procs, scheduler, alloc, mmu, reg)
		go func() {
			if err := srv.Run(); err != nil {
				logger.Error("Monitor server stopped", zap.Error(err))
			}
		}()
	}

	// Run init from a bootstrapped kernel thread and wait for it, then
	// bring the machine down.
	done := make(chan int, 1)
	_, err = scheduler.Spawn("main", sched.PriDefault, func(kt *sched.Thread) {
		boot := procs.Bootstrap(kt)
		pid, err := procs.Execute(boot, initCmd)
		if err != nil {
			logger.Error("Failed to start init",
				zap.String("cmdline", initCmd),
				zap.Error(err))
			done <- 1
			return
		}
		done <- procs.Wait(boot, pid)
	})
	if err != nil {
		logger.Fatal("Failed to spawn boot thread", zap.Error(err))
	}

	select {
	case code := <-done:
		logger.Info("Init exited", zap.Int("code", code))
		if code != 0 {
			os.Exit(1)
		}
	case <-halted:
		logger.Info("Halted")
	}
}
