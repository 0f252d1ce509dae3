// Package monitoring exposes Prometheus metrics for the user-program
// subsystem.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics the kernel records.
type Metrics struct {
	// Process lifecycle
	ProcessesStarted prometheus.Counter
	ProcessesExited  prometheus.Counter
	LoadFailures     prometheus.Counter

	// Threads
	ThreadsLive    prometheus.Gauge
	ThreadsSpawned prometheus.Counter

	// Memory
	UserPagesInUse prometheus.Gauge

	// Syscalls
	Syscalls *prometheus.CounterVec
}

// New creates a metrics collector registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProcessesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "kernel_processes_started_total",
			Help: "Total number of processes successfully loaded",
		}),
		ProcessesExited: f.NewCounter(prometheus.CounterOpts{
			Name: "kernel_processes_exited_total",
			Help: "Total number of processes torn down",
		}),
		LoadFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "kernel_load_failures_total",
			Help: "Total number of failed executable loads",
		}),
		ThreadsLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_threads_live",
			Help: "Number of live kernel threads",
		}),
		ThreadsSpawned: f.NewCounter(prometheus.CounterOpts{
			Name: "kernel_threads_spawned_total",
			Help: "Total number of user threads created",
		}),
		UserPagesInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_user_pages_in_use",
			Help: "Pages currently allocated from the user pool",
		}),
		Syscalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_syscalls_total",
			Help: "Syscalls dispatched, by name",
		}, []string{"name"}),
	}
}

// NewNop creates a collector on a throwaway registry. Used in tests and
// wherever metrics are not wired.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
