//go:build !linux

package resource

import "runtime"

// BindThread locks the calling goroutine to its current OS thread. CPU
// pinning itself (original_source/ThreadAffinity.cpp) is Linux-only
// here; other platforms still get the OS-thread lock so per-worker
// goroutines don't migrate, matching spec.md §5's "optional" framing.
func BindThread(core int) error {
	runtime.LockOSThread()
	return nil
}
