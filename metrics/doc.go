// Package metrics exports Prometheus metrics about sandbox runs.
//
// Collector implements sandbox.Observer and registers its metrics on a
// private registry, so several collectors can live in one process. Serve
// them with Collector.Handler.
package metrics
