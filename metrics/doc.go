// Package metrics provides a Prometheus-backed segtree.MetricsCollector.
//
//	reg := prometheus.NewRegistry()
//	tree, err := segtree.Open(nil, path, segtree.OpenLazy,
//		segtree.WithMetricsCollector(metrics.NewPrometheusCollector(reg)))
//	http.Handle("/metrics", metrics.Handler(reg))
package metrics
