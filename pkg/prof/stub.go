//go:build !profile

package prof

// Builds without the profile tag get no-op profiling, so the daemon's
// profile flags stay wired at zero runtime cost.

// StartCPU does nothing without the profile build tag.
func StartCPU(string) error { return nil }

// StopCPU does nothing without the profile build tag.
func StopCPU() {}

// Write does nothing without the profile build tag.
func Write(Profile, string) error { return nil }
