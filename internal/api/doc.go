// Package api serves the stored school rankings over HTTP. Routes:
//   - GET /healthz for probes and GET /metrics for Prometheus scraping.
//   - GET /v1/schools and /v1/schools/search?name= for listing and lookup.
//   - GET /v1/schools/{id}, /rankings and /overview for one school.
//   - PATCH and DELETE /v1/schools/{id} for corrections.
package api
