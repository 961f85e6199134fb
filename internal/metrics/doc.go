/*
Package metrics exports objectftp activity as Prometheus metrics.

A Collector owns a private registry so several collectors can coexist in one
process (tests do this). It implements the recorder interfaces of the
filesystem, cache and session packages, and a nil *Collector records nothing,
so components can be built without metrics.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9102,
		Path:      "/metrics",
		Namespace: "objectftp",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

# Series

Counters:
  - objectftp_operations_total{operation,status}
  - objectftp_errors_total{operation,code}: code is the lower-cased error code, e.g. file_not_found
  - objectftp_cache_requests_total{tier,result}: tier is local, shared or token
  - objectftp_bytes_transferred_total{direction}: upload or download
  - objectftp_rejected_connections_total

Histograms:
  - objectftp_operation_duration_seconds{operation}

Gauges:
  - objectftp_active_connections

# HTTP Endpoints

	/metrics            Prometheus exposition (path configurable)
	/health             liveness probe
	/debug/operations   plain-text per-operation summary
*/
package metrics
