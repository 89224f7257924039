package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	archiveLockDirName   = ".archive.lock"
	archiveLockOwnerFile = "owner.json"
)

// ArchiveLock guards an archive root against a second concurrent process.
// The lock is a directory because mkdir is atomic on every platform we
// care about. A lock whose recorded owner process is no longer alive on
// this host is reclaimed, so a crashed watch daemon does not wedge the
// archive until someone deletes the directory by hand.
type ArchiveLock struct {
	lockDir string
}

type archiveLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireArchiveLock(root string) (ArchiveLock, error) {
	target := strings.TrimSpace(root)
	if target == "" {
		return ArchiveLock{}, fmt.Errorf("archive root is required")
	}

	lockDir := filepath.Join(target, archiveLockDirName)
	ownerPath := filepath.Join(lockDir, archiveLockOwnerFile)

	err := os.Mkdir(lockDir, 0o755)
	if os.IsExist(err) {
		var owner archiveLockOwner
		if readErr := ReadJSON(ownerPath, &owner); readErr == nil && ownerIsStale(owner) {
			_ = os.Remove(ownerPath)
			_ = os.Remove(lockDir)
			err = os.Mkdir(lockDir, 0o755)
		}
	}
	if err != nil {
		if os.IsExist(err) {
			var owner archiveLockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return ArchiveLock{}, fmt.Errorf(
					"archive root is locked: %s (pid=%d created_at=%s host=%s)",
					target, owner.PID, owner.CreatedAt, owner.Hostname,
				)
			}
			return ArchiveLock{}, fmt.Errorf("archive root is locked: %s", target)
		}
		return ArchiveLock{}, fmt.Errorf("acquire archive lock for %s: %w", target, err)
	}

	owner := archiveLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.Remove(lockDir)
		return ArchiveLock{}, fmt.Errorf("write archive lock owner for %s: %w", target, err)
	}

	return ArchiveLock{lockDir: lockDir}, nil
}

// ownerIsStale reports whether the recorded holder can be ruled dead.
// Liveness is only decidable for processes on the same host; locks from
// other hosts are never reclaimed.
func ownerIsStale(owner archiveLockOwner) bool {
	if owner.PID <= 0 {
		return false
	}
	if owner.Hostname != "" && owner.Hostname != hostnameOrUnknown() {
		return false
	}
	return !pidAlive(owner.PID)
}

// pidAlive probes a pid with signal 0. Anything other than a definite
// "no such process" counts as alive.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return false
	}
	return true
}

func (l ArchiveLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, archiveLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release archive lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
