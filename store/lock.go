package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// WlockEnvKey is the environment variable a subprocess inheriting an
// already-held wlock is handed (spec §6 "Locks support an inheritable
// mode for subprocess handoff via environment variables
// (HG_WLOCK_LOCKER)").
const WlockEnvKey = "HG_WLOCK_LOCKER"

// Lock is a held exclusive-create lock file.
type Lock struct {
	vfs  *VFS
	name string
	log  *logrus.Logger
}

// Environ returns the environment variable assignment a subprocess
// should inherit to be treated as already holding this lock.
func (l *Lock) Environ() string {
	content, _ := l.vfs.ReadFile(l.name)
	return WlockEnvKey + "=" + string(content)
}

// Unlock releases the lock by removing its file.
func (l *Lock) Unlock() error {
	return l.vfs.Remove(l.name)
}

// Acquire creates name as an exclusive-create lock file containing
// "host:pid" (spec §6 "Lock implementation"). If the file already
// exists, it is read; if the process it names is dead (or on a
// different host, which this implementation cannot verify and so
// treats conservatively as possibly alive), the stale lock is broken
// and acquisition is retried exactly once, with a warning logged.
func Acquire(vfs *VFS, name string, log *logrus.Logger) (*Lock, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if inherited := os.Getenv(WlockEnvKey); inherited != "" {
		return &Lock{vfs: vfs, name: name, log: log}, nil
	}

	host, _ := os.Hostname()
	content := fmt.Sprintf("%s:%d", host, os.Getpid())

	full := vfs.Join(name)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			if _, werr := f.WriteString(content); werr != nil {
				f.Close()
				return nil, werr
			}
			f.Close()
			return &Lock{vfs: vfs, name: name, log: log}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		raw, rerr := vfs.ReadFile(name)
		if rerr != nil {
			return nil, rerr
		}
		lockHost, pid, perr := parseLockContent(string(raw))
		if perr != nil {
			return nil, fmt.Errorf("store: malformed lock file %q: %w", name, perr)
		}
		if lockHost == host && !processAlive(pid) {
			log.WithFields(logrus.Fields{"lock": name, "holder": string(raw)}).Warn("store: breaking stale lock")
			if err := vfs.Remove(name); err != nil {
				return nil, err
			}
			continue
		}
		return nil, fmt.Errorf("store: lock %q held by %s", name, raw)
	}
	return nil, fmt.Errorf("store: lock %q still held after breaking a stale lock", name)
}

func parseLockContent(raw string) (host string, pid int, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("expected host:pid, got %q", raw)
	}
	pid, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, err
	}
	return parts[0], pid, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
