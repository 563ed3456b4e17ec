package statusmonitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus gauges the Status Monitor keeps fresh on
// every tick. Grounded on this codebase's convention of a small struct of
// pre-registered collectors built once at startup and populated on each
// observation, rather than package-level globals (see the precise code
// intel resetter's metrics package).
type Metrics struct {
	RunningJobs   prometheus.Gauge
	GlobalSlots   prometheus.Gauge
	PerServerSlot *prometheus.GaugeVec
	ProcessRSS    *prometheus.GaugeVec
	ProcessCPU    *prometheus.GaugeVec
}

// NewMetrics registers the Status Monitor's collectors against r.
func NewMetrics(r prometheus.Registerer) Metrics {
	runningJobs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "repo_converter_running_jobs",
		Help: "Number of conversion jobs currently tracked in the process table.",
	})
	r.MustRegister(runningJobs)

	globalSlots := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "repo_converter_global_slots_in_use",
		Help: "Number of global concurrency gate slots currently held.",
	})
	r.MustRegister(globalSlots)

	perServerSlots := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repo_converter_server_slots_in_use",
		Help: "Number of concurrency gate slots currently held, by server key.",
	}, []string{"server_key"})
	r.MustRegister(perServerSlots)

	processRSS := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repo_converter_process_rss_bytes",
		Help: "Resident set size of a tracked child process, by repo key.",
	}, []string{"repo_key"})
	r.MustRegister(processRSS)

	processCPU := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repo_converter_process_cpu_percent",
		Help: "CPU utilization of a tracked child process, by repo key.",
	}, []string{"repo_key"})
	r.MustRegister(processCPU)

	return Metrics{
		RunningJobs:   runningJobs,
		GlobalSlots:   globalSlots,
		PerServerSlot: perServerSlots,
		ProcessRSS:    processRSS,
		ProcessCPU:    processCPU,
	}
}
