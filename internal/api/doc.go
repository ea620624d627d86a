// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for probes; readyz pings the store, cache and queue.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/tasks lists task names.
//   - POST /v1/tasks/{name} enqueues a task with the request body as its arguments.
package api
