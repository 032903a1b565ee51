//go:build !profile

package prof

import "testing"

// The default build carries no-op profiling so the daemon's flags stay
// wired without the runtime cost. The stubs must succeed silently.
func TestStubsAreNoOps(t *testing.T) {
	if err := StartCPU("unused.prof"); err != nil {
		t.Errorf("StartCPU() error = %v, want nil", err)
	}
	StopCPU()

	if err := Write(ProfileHeap, "unused.prof"); err != nil {
		t.Errorf("Write() error = %v, want nil", err)
	}
}

func TestProfileString(t *testing.T) {
	if got := ProfileHeap.String(); got != "heap" {
		t.Errorf("Profile.String() = %q, want %q", got, "heap")
	}
}
