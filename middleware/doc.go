// Package middleware provides net/http handlers that gate routes on the
// engine: bearer token extraction, session verification, and permission
// requirements. The verified identity is stored on the request context.
package middleware
