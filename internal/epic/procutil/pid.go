package procutil

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDAlive reports whether pid names a live, non-zombie process.
func PIDAlive(pid int) bool {
	if pid <= 0 || pidZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func pidZombie(pid int) bool {
	state, ok := procState(pid)
	if !ok {
		state, ok = psState(pid)
	}
	return ok && (state == 'Z' || state == 'X')
}

// procState reads the state letter from /proc/<pid>/stat. The command name
// field may contain spaces and parentheses, so parse after the last ')'.
func procState(pid int) (byte, bool) {
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, false
	}
	line := string(b)
	i := strings.LastIndexByte(line, ')')
	if i < 0 || i+2 >= len(line) {
		return 0, false
	}
	return line[i+2], true
}

func psState(pid int) (byte, bool) {
	if _, err := os.Stat("/proc/self/stat"); err == nil {
		return 0, false
	}
	out, err := exec.Command("ps", "-o", "state=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(out))
	if s == "" {
		return 0, false
	}
	return s[0], true
}
