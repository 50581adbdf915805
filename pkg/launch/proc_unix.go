//go:build !windows

package launch

import (
	"os"
	"syscall"
)

func newProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(p.Pid)
	if err == nil {
		return syscall.Kill(-pgid, sig)
	}
	return syscall.Kill(p.Pid, sig)
}

func signalTerm(p *os.Process) error { return signalGroup(p, syscall.SIGTERM) }
func signalKill(p *os.Process) error { return signalGroup(p, syscall.SIGKILL) }
