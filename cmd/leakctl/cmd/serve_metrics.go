package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kolkov/leaktracer/internal/leak/eventchan"
)

var serveMetricsAddr string

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Poll a running leakagent and export its counters as Prometheus metrics",
	RunE:  runServeMetrics,
}

func init() {
	serveMetricsCmd.Flags().StringVar(&serveMetricsAddr, "addr", ":9110", "listen address for the metrics endpoint")
}

// metricsExporter polls a MappedBuffer on an interval and reflects its
// counters into Prometheus counters and gauges, the same polling-and-reflecting shape
// tapio's own PrometheusExporter uses for health metrics.
type metricsExporter struct {
	reader *eventchan.Reader

	totalAllocations prometheus.Counter
	totalFrees       prometheus.Counter
	currentMemory    prometheus.Gauge
	leakCount        prometheus.Gauge
}

func newMetricsExporter(reg *prometheus.Registry, reader *eventchan.Reader) *metricsExporter {
	e := &metricsExporter{
		reader: reader,
		totalAllocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leak_total_allocations",
			Help: "Total allocations observed since the agent started.",
		}),
		totalFrees: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leak_total_frees",
			Help: "Total frees observed since the agent started.",
		}),
		currentMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leak_current_memory_bytes",
			Help: "Bytes currently allocated and tracked.",
		}),
		leakCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leak_count",
			Help: "Number of allocations currently flagged as stale.",
		}),
	}
	reg.MustRegister(e.totalAllocations, e.totalFrees, e.currentMemory, e.leakCount)
	return e
}

func runServeMetrics(c *cobra.Command, args []string) error {
	name := shmName()
	m, err := eventchan.OpenExistingNamed(name)
	if err != nil {
		return fmt.Errorf("attach %s: %w", name, err)
	}
	defer m.Close()

	reader := eventchan.NewReader(m.Buffer)
	registry := prometheus.NewRegistry()
	exporter := newMetricsExporter(registry, reader)

	var lastAllocations, lastFrees uint64
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			s := reader.Stats()
			if s.TotalAllocations > lastAllocations {
				exporter.totalAllocations.Add(float64(s.TotalAllocations - lastAllocations))
				lastAllocations = s.TotalAllocations
			}
			if s.TotalFrees > lastFrees {
				exporter.totalFrees.Add(float64(s.TotalFrees - lastFrees))
				lastFrees = s.TotalFrees
			}
			exporter.currentMemory.Set(float64(s.CurrentMemory))
			exporter.leakCount.Set(float64(s.LeakCount))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	fmt.Printf("leakctl: serving metrics on %s/metrics\n", serveMetricsAddr)
	return http.ListenAndServe(serveMetricsAddr, mux)
}
