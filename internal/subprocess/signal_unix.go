//go:build darwin || linux

package subprocess

import "syscall"

// terminationSignal is sent to the child first; exec.Cmd's WaitDelay
// escalates to SIGKILL if the child has not exited by the grace period.
var terminationSignal = syscall.SIGTERM
