// Package admin serves the operational HTTP endpoints of tokengate:
//
//	GET /healthz   liveness
//	GET /readyz    readiness checks registered with WithReadinessCheck
//	GET /metrics   Prometheus exposition
//	GET /keys      cached verification keys as a JWKS document
//	POST /keys/refresh  forced certificate fetch, enabled by WithKeyRefresher
package admin
