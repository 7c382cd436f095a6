//go:build windows

package pipeline

import "os"

// signalInfo is always false on Windows: there is no POSIX signal
// disposition to report, only an exit code, which ExitError already
// carries.
func signalInfo(ps *os.ProcessState) (signaled bool, signal string) {
	return false, ""
}
