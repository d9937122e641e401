// Package api hosts the HTTP surface of the gateway. Notable routes:
//   - POST / retrieves an article for {"url", "key"}.
//   - GET /health reports store reachability and uptime.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//
// Every response on / is a success or error envelope; RequestGate validation
// runs before any cache or fetch work.
package api
