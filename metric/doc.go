// Package metric provides the Prometheus registry shared by vatdata components.
//
// A MetricsRegistry owns a private prometheus.Registry pre-loaded with the
// unit-level metrics (crank outcomes and durations, halt status, error
// classes, NATS connectivity) and the Go runtime collectors. Components
// register their own collectors under a component name:
//
//	registry := metric.NewMetricsRegistry()
//	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "vatdata_cache_hits_total"})
//	if err := registry.RegisterCounter("vom", "cache_hits", counter); err != nil {
//	    return err
//	}
//
// Registering the same component/name pair twice returns an invalid-class
// error rather than panicking.
//
// Server serves the registry in Prometheus text format:
//
//	server := metric.NewServer(":9090", "/metrics", registry)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(ctx)
package metric
