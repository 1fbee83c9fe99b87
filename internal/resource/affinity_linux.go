//go:build linux

package resource

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// BindThread locks the calling goroutine to its current OS thread and
// pins that thread to a single CPU core (original_source/ThreadAffinity.cpp).
// core < 0 means "unpinned": the thread is still locked (so later
// per-worker syscalls stay on one OS thread) but no affinity mask is set.
func BindThread(core int) error {
	runtime.LockOSThread()
	if core < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
