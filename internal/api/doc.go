// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to trigger an ingestion run for a period.
//   - GET /v1/runs and /v1/runs/{run_id} for run history via the
//     RunRepository interface.
//   - GET /v1/runs/{run_id}/changes for the per-document change log of a run.
package api
