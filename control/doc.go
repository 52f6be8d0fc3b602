// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for the HPTS scheduler.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable configuration with TOML/JSON loading and validation
//   - Metrics publication for per-entry scheduler counters
//   - State export, debug hooks, and probe registration
package control
