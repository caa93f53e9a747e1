// Package server exposes the streamline API over HTTP.
//
// New mounts the api handlers and /metrics on one mux and wraps it in the
// shared middleware chain: request IDs, request logging, metrics, security
// headers, CORS, rate limiting, caller authentication and an audit log of
// mutating API calls.
package server
