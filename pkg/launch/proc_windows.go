//go:build windows

package launch

import (
	"os"
	"syscall"
)

func newProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no SIGTERM for console-less children; both steps kill.
func signalTerm(p *os.Process) error { return p.Kill() }
func signalKill(p *os.Process) error { return p.Kill() }
