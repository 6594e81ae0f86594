package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLockHeld is returned when an advisory lock is already held by a live
// process.
var ErrLockHeld = errors.New("lock held")

// LockTTL is the age after which a lock file is considered stale even if its
// process cannot be confirmed dead (clock skew / foreign host fallback).
const LockTTL = 10 * time.Minute

type lockInfo struct {
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname"`
	Started  time.Time `json:"started_at"`
}

// WithLock acquires the advisory lock for the (feature, issue) pair, runs fn,
// and releases the lock afterward regardless of fn's outcome. Concurrent
// calls to WithLock for the same key serialize: the second caller to arrive
// while the lock is held receives ErrLockHeld immediately rather than
// blocking — callers retry after a Cleanup scan.
func (s *Store) WithLock(featureID string, issue int, fn func() error) error {
	key := fmt.Sprintf("%s-%d", featureID, issue)
	path := s.Path("sessions", "locks", key+".lock")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &PersistenceError{Path: path, Op: "mkdir", Err: err}
	}

	if err := s.acquireLock(path); err != nil {
		return err
	}
	defer s.releaseLock(path)

	return fn()
}

func (s *Store) acquireLock(path string) error {
	info := lockInfo{PID: os.Getpid(), Hostname: hostname(), Started: time.Now()}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		defer f.Close()
		if _, werr := f.Write(data); werr != nil {
			os.Remove(path)
			return werr
		}
		return nil
	}
	if !os.IsExist(err) {
		return &PersistenceError{Path: path, Op: "create-lock", Err: err}
	}

	// Lock file exists: is it stale?
	if s.isStale(path) {
		s.logger.Warn("reclaiming stale lock", map[string]any{"path": path})
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return &PersistenceError{Path: path, Op: "reclaim-lock", Err: rerr}
		}
		return s.acquireLock(path)
	}

	return ErrLockHeld
}

func (s *Store) releaseLock(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to release lock", map[string]any{"path": path, "error": err.Error()})
	}
}

// isStale reports whether the lock file at path belongs to a dead process,
// a different host, or has exceeded LockTTL.
func (s *Store) isStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		// Can't read it — treat as stale so a crash mid-write doesn't wedge
		// the lock forever.
		return true
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return true
	}
	if time.Since(info.Started) > LockTTL {
		return true
	}
	if info.Hostname != hostname() {
		// Can't check liveness across hosts; TTL above is the only signal.
		return false
	}
	return !processAlive(info.PID)
}

// Cleanup scans the lock directory and removes any lock that isStale
// considers abandoned. Call this after receiving ErrLockHeld before retrying.
func (s *Store) Cleanup() (int, error) {
	dir := s.Path("sessions", "locks")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &PersistenceError{Path: dir, Op: "readdir", Err: err}
	}
	reclaimed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if s.isStale(path) {
			if err := os.Remove(path); err == nil {
				reclaimed++
			}
		}
	}
	return reclaimed, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness.
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
