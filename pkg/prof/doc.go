// Package prof captures pprof profiles for the storage daemon.
//
// The real implementation compiles only under the "profile" build tag:
//
//	go build -tags profile ./cmd/sdstored
//
// Default builds get no-op stubs with the same signatures, so the
// daemon's --cpuprofile and --memprofile flags are always accepted and
// cost nothing unless the tag is set.
//
// CPU profiles stream between [StartCPU] and [StopCPU], one at a time.
// Every other profile is a point-in-time snapshot taken with [Write]:
//
//	prof.Write(prof.ProfileHeap, "heap.prof")
package prof
