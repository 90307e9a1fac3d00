// Package api provides the HTTP API server for the recall memory engine.
package api

import "net/http"

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// MCP, when set, is mounted at /mcp.
	MCP http.Handler
}
