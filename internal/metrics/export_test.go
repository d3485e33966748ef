package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry exposes the collector's private registry to package tests.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}
