// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components owning worker goroutines.
type GracefulShutdown interface {
	// Shutdown stops all internal workers and releases resources.
	Shutdown() error
}
