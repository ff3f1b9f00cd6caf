// Package server hosts the Fiber HTTP service that exposes the cache: a request
// ID middleware, GET /:bucket?url=... to resolve and stream an entry, and
// /-/fetch for the configured default bucket. Admin surfaces live in the
// routes subpackage; keep exports narrow and accept explicit dependencies.
package server
