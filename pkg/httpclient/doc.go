// Package httpclient is a small JSON-over-HTTP client for calling gateway services.
//
// Non-2xx responses are returned as *StatusError so callers can classify them
// (for example 4xx as permanent and 5xx as transient).
package httpclient
