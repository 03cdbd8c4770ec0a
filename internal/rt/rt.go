// ABOUTME: Real-time scheduling, CPU pinning and memory locking
// ABOUTME: Best-effort elevation for the hardware-writer thread
package rt

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AudioPriority is the SCHED_FIFO priority requested for the hardware
// writer. 99 is the highest; 90-95 leaves headroom for kernel threads.
const AudioPriority = 95

type schedParam struct {
	Priority int32
}

// ElevatePriority requests SCHED_FIFO scheduling for the calling thread.
// The caller must be pinned to its OS thread with runtime.LockOSThread.
// Failure (almost always a missing privilege) is a degraded-mode warning,
// not fatal: correctness does not depend on it, only jitter resilience.
func ElevatePriority() error {
	param := schedParam{Priority: AudioPriority}

	// Raise the memlock limit first so LockMemory has a chance to succeed
	// too; ignore failure, the scheduler call is the one that matters here.
	rlim := unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	_ = unix.Setrlimit(unix.RLIMIT_MEMLOCK, &rlim)

	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER,
		0, uintptr(unix.SCHED_FIFO), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return fmt.Errorf("sched_setscheduler(SCHED_FIFO, %d): %w", AudioPriority, errno)
	}
	return nil
}

// PinToCPU restricts the calling thread to a single core, avoiding
// cross-core cache and context-switch jitter. Best-effort.
func PinToCPU(coreID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(coreID)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(cpu %d): %w", coreID, err)
	}
	return nil
}

// LockMemory asks the kernel to keep the process's pages resident so audio
// buffers are never paged out mid-stream. Best-effort.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}
