package prometheus

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = NewRegistry()
)

// NewRegistry returns a registry carrying the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func GetRegistry() *prometheus.Registry {
	return registry
}

// Handler serves reg in the Prometheus text exposition format.
func Handler(reg *prometheus.Registry) app.HandlerFunc {
	return adaptor.HertzHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}
