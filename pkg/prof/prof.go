//go:build profile

package prof

import (
	"os"
	"runtime/pprof"
	"sync"
)

var (
	// cpuMutex guards the CPU profile handle. Snapshot profiles carry no
	// state of their own.
	cpuMutex sync.Mutex

	// cpuFile is non-nil exactly while a CPU profile is streaming.
	cpuFile *os.File
)

// StartCPU begins streaming CPU samples to a file at path. Only one CPU
// profile can run at a time; a second call fails with
// [ErrCPUProfileActive] until [StopCPU].
func StartCPU(path string) error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuFile != nil {
		return ErrCPUProfileActive
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	cpuFile = f
	return nil
}

// StopCPU flushes and closes the running CPU profile. Calling it with no
// profile active does nothing.
func StopCPU() {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	cpuFile.Close()
	cpuFile = nil
}

// Write captures a point-in-time snapshot of the named profile into a
// file at path. [ProfileCPU] is not a snapshot and fails with
// [ErrInvalidProfile]; use [StartCPU] and [StopCPU] instead.
func Write(profile Profile, path string) error {
	if profile == ProfileCPU {
		return ErrInvalidProfile
	}
	p := pprof.Lookup(string(profile))
	if p == nil {
		return ErrInvalidProfile
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.WriteTo(f, 0)
}
