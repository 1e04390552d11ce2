// Package middleware holds what the HTTP middleware packages share.
package middleware

// ContextKey types the values middleware stores in request contexts.
type ContextKey string

// RequestIDKey carries the request ID set by the requestid middleware and
// read by logging and error responses.
const RequestIDKey ContextKey = "request_id"
