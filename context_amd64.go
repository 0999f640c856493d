//go:build amd64

package unwind

// captureContext returns its own return address (a PC inside its caller,
// NewCursor) and the caller's stack pointer as it was just before the call
// (spec §4.8 construction path 1: "capture the calling thread's context via
// an OS primitive").
// Rather than binding libc's getcontext(3) (deprecated on Darwin, and only
// reachable from Go without cgo through a hand-written syscall shim), this
// module captures the two registers the simplified CursorState actually
// needs directly off the stack in a short assembly stub, the same technique
// _examples/other_examples's goruntime.regfp() uses to read the frame
// pointer chain without calling into the runtime.
func captureContext() (rip, rsp uint64)
