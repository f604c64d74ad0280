// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lock serializes apply operations across processes.
//
// Mutual exclusion comes from flock(2) on the lock file, so a holder
// that crashes releases the lock automatically when its descriptor
// closes. The holder info written into the file is advisory metadata
// for humans and error messages, never the exclusion mechanism itself.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPath is the lock file used by apply when none is configured.
const DefaultPath = "/var/run/tidepool/apply.lock"

// pollInterval is how often a blocked Acquire retries the lock.
const pollInterval = 500 * time.Millisecond

// Holder describes the process that owns the lock.
type Holder struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// HeldError reports that another process holds the lock.
type HeldError struct {
	Path   string
	Holder *Holder
}

func (e *HeldError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("apply lock %s is held by another process", e.Path)
	}
	return fmt.Sprintf("apply lock %s is held by PID %d since %s",
		e.Path, e.Holder.PID, e.Holder.AcquiredAt.Format(time.RFC3339))
}

// ApplyLock is an exclusive cross-process lock backed by a file.
type ApplyLock struct {
	path string
	file *os.File
}

// New returns an unacquired lock at path.
func New(path string) *ApplyLock {
	return &ApplyLock{path: path}
}

// Acquire takes the lock, retrying every 500ms until timeout.
//
// A zero timeout attempts exactly once. On failure the returned error
// is a *HeldError carrying whatever holder info could be read from the
// lock file.
func (l *ApplyLock) Acquire(timeout time.Duration) error {
	if l.file != nil {
		return fmt.Errorf("lock already acquired")
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		file, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("opening lock file: %w", err)
		}

		err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			// A releasing holder removes the path before unlocking, so
			// the inode we flocked may no longer be the one at l.path.
			// Holding a lock on an orphaned inode excludes nobody.
			current, statErr := lockFileCurrent(file, l.path)
			if statErr != nil {
				file.Close()
				return fmt.Errorf("verifying lock file %s: %w", l.path, statErr)
			}
			if !current {
				file.Close()
				continue
			}
			l.file = file
			if err := l.writeHolder(); err != nil {
				l.Release()
				return err
			}
			return nil
		}
		file.Close()

		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			return fmt.Errorf("flock %s: %w", l.path, err)
		}
		if !time.Now().Add(pollInterval).Before(deadline) {
			return &HeldError{Path: l.path, Holder: readHolder(l.path)}
		}
		time.Sleep(pollInterval)
	}
}

// lockFileCurrent reports whether the open descriptor still refers to
// the inode present at path.
func lockFileCurrent(file *os.File, path string) (bool, error) {
	fi, err := file.Stat()
	if err != nil {
		return false, err
	}
	pi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return os.SameFile(fi, pi), nil
}

// writeHolder records our PID in the lock file. A write failure fails
// the acquisition; the caller releases the flock before reporting it.
func (l *ApplyLock) writeHolder() error {
	holder := Holder{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(holder)
	if err != nil {
		return fmt.Errorf("encoding lock holder: %w", err)
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("truncating lock file: %w", err)
	}
	if _, err := l.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("writing lock holder: %w", err)
	}
	return nil
}

// Release unlocks and removes the lock file. Safe to call more than
// once.
func (l *ApplyLock) Release() error {
	if l.file == nil {
		return nil
	}

	// Remove before unlocking so a waiter never reads stale holder
	// info from a file we are about to abandon.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}

	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing lock file: %w", closeErr)
	}
	return nil
}

// Status returns the current holder recorded at path, or nil when the
// lock file does not exist or holds no readable holder info.
func Status(path string) *Holder {
	return readHolder(path)
}

func readHolder(path string) *Holder {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var holder Holder
	if err := json.Unmarshal(data, &holder); err != nil {
		return nil
	}
	if holder.PID == 0 {
		return nil
	}
	return &holder
}
