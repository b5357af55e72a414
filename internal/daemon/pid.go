package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"firestige.xyz/trapd/internal/log"
)

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	path := d.config.PIDFile
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}

	log.GetLogger().WithField("path", path).WithField("pid", pid).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	path := d.config.PIDFile
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	return nil
}

// ReadPID reads the process ID stored in a PID file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}

// Signal sends sig to the daemon recorded in the PID file.
func Signal(pidFile string, sig syscall.Signal) error {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(sig)
}
