// Package api hosts the JSON-over-HTTP handlers that front streamline.
//
// Handlers decode requests, resolve the caller and delegate every mutation
// to the live, social and catalog services, which own validation and the
// transactional rules. The caller identity arrives from an upstream auth
// layer in the X-User-Id header; the ingest system authenticates with a
// bearer token checked against a bcrypt hash. Anonymous callers may read.
//
// Successful responses are wrapped as {"data": ..., "errors": [...]}. The
// errors list reports individual fields the caller may not read, such as a
// channel's stream key, without failing the request. Failed requests return
// {"error", "kind", "fields"} with the status derived from the error kind.
//
// Handlers assume internal/server has already applied rate limiting, CORS,
// metrics and request logging.
package api
