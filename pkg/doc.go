// Package pkg provides shared utilities for the SD storage driver.
//
// This package contains common functionality used across the protocol
// engine, the transports, and the storage boundary, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for driver and protocol failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with driver-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentCard, "card ready", "sectors", 1024)
//
// # Errors
//
// Driver failures are reported as wrapped sentinel values:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // The card stopped answering; re-initialize before retrying.
//	}
//
// Protocol failures never trigger hidden retries outside the
// initialization handshake; a failed operation leaves the medium in
// whatever state the last completed sector transaction produced.
package pkg
