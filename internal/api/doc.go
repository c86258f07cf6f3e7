// Package api serves the read-only REST view of the flow table, the
// identity store, the archive and the scheduler, plus Prometheus metrics.
//
//	GET /api/flows            live flows, by reference
//	GET /api/flows/size       number of live flows
//	GET /api/flows/{ref}      one live flow
//	GET /api/identities       known address identities
//	GET /api/archive?limit=N  most recently archived flows
//	GET /api/tasks            scheduler task status
//	GET /metrics              Prometheus exposition
//	GET /healthz              liveness
package api
