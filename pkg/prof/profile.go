package prof

import "errors"

// Profile names a pprof profile kind.
type Profile string

// Profiles the daemon can capture.
const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileAllocs    Profile = "allocs"
	ProfileGoroutine Profile = "goroutine"
)

// String returns the profile name as registered with [runtime/pprof].
func (p Profile) String() string {
	return string(p)
}

var (
	// ErrCPUProfileActive reports a second StartCPU before StopCPU.
	ErrCPUProfileActive = errors.New("cpu profile already active")

	// ErrInvalidProfile reports an unknown profile kind, or ProfileCPU
	// passed to Write.
	ErrInvalidProfile = errors.New("invalid profile")
)
