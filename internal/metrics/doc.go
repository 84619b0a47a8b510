// Package metrics collects request and health metrics for the load balancer.
//
// Producers (the relay and the health monitor) emit MetricEvent values to a
// Collector, which folds them in a dedicated goroutine into two views:
//   - an in-memory aggregate served as JSON (request and selection counts,
//     successes and failures, response time average and P50/P95/P99, health)
//   - Prometheus series on a private registry
//
// Emit never blocks the request path: when the buffer is full the event is
// dropped and counted.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:        metrics.EventResponseCompleted,
//		Backend:     "2",
//		RequestType: "GET",
//		Duration:    15 * time.Millisecond,
//		Success:     true,
//	})
//
//	snapshot := collector.Snapshot("Round Robin")
package metrics
