//go:build profile

package prof

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// ===== CPU Profiling Tests =====

func TestStartCPUSecondCallRejected(t *testing.T) {
	if err := StartCPU(filepath.Join(t.TempDir(), "cpu.prof")); err != nil {
		t.Fatalf("StartCPU() error = %v", err)
	}
	defer StopCPU()

	err := StartCPU(filepath.Join(t.TempDir(), "cpu2.prof"))
	if !errors.Is(err, ErrCPUProfileActive) {
		t.Errorf("second StartCPU() error = %v, want %v", err, ErrCPUProfileActive)
	}
}

func TestStartCPUBadPath(t *testing.T) {
	if err := StartCPU(filepath.Join(t.TempDir(), "missing", "cpu.prof")); err == nil {
		StopCPU()
		t.Error("StartCPU() with an unwritable path succeeded")
	}
}

func TestStopCPUIdempotent(t *testing.T) {
	// Stopping without a running profile must not panic.
	StopCPU()
	StopCPU()
}

func TestStopCPUAllowsRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")
	if err := StartCPU(path); err != nil {
		t.Fatalf("StartCPU() error = %v", err)
	}
	StopCPU()

	if err := StartCPU(path); err != nil {
		t.Fatalf("StartCPU() after StopCPU() error = %v", err)
	}
	StopCPU()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() == 0 {
		t.Error("profile file is empty")
	}
}

// ===== Snapshot Profile Tests =====

func TestWriteSnapshots(t *testing.T) {
	for _, profile := range []Profile{ProfileHeap, ProfileAllocs, ProfileGoroutine} {
		t.Run(profile.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), profile.String()+".prof")
			if err := Write(profile, path); err != nil {
				t.Fatalf("Write(%v) error = %v", profile, err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Stat() error = %v", err)
			}
			if info.Size() == 0 {
				t.Errorf("Write(%v) produced an empty file", profile)
			}
		})
	}
}

func TestWriteRejectsCPU(t *testing.T) {
	err := Write(ProfileCPU, filepath.Join(t.TempDir(), "cpu.prof"))
	if !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Write(ProfileCPU) error = %v, want %v", err, ErrInvalidProfile)
	}
}

func TestWriteRejectsUnknownProfile(t *testing.T) {
	err := Write(Profile("bogus"), filepath.Join(t.TempDir(), "bogus.prof"))
	if !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Write(bogus) error = %v, want %v", err, ErrInvalidProfile)
	}
}
