//go:build !windows

package pipeline

import (
	"os"
	"syscall"
)

// signalInfo reports whether ps ended via a terminating signal and, if so,
// its name. Only POSIX process states carry this in their Sys() value.
func signalInfo(ps *os.ProcessState) (signaled bool, signal string) {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return false, ""
	}
	return true, ws.Signal().String()
}
