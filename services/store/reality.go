// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/tidepool/services/reality"
)

// RecordSnapshot persists a reality snapshot and indexes it as the
// latest capture.
//
// The snapshot is written to its own file under the snapshot
// directory (temp-then-rename) and an index entry is appended to the
// ledger. Older captures beyond KeepSnapshots are pruned. Returns the
// snapshot handle, or "" with a nil error when tracking is disabled
// for this execution context.
func (s *Store) RecordSnapshot(snap *reality.Snapshot) (string, error) {
	if s.disabled {
		s.log.Debug("state tracking disabled, snapshot not recorded")
		return "", nil
	}
	if snap == nil {
		return "", fmt.Errorf("nil snapshot")
	}

	if err := os.MkdirAll(s.snapshotDir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}

	now := time.Now().UTC()
	handle := fmt.Sprintf("reality_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(s.snapshotDir, handle+".json")

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("committing snapshot: %w", err)
	}

	s.state.Reality.Snapshots = append(s.state.Reality.Snapshots, SnapshotEntry{
		Handle:     handle,
		Path:       path,
		RecordedAt: now,
		Summary: SnapshotSummary{
			Containers: len(snap.Containers),
			Pools:      len(snap.Volumes),
		},
	})
	s.pruneSnapshots()

	if err := s.Save(); err != nil {
		return "", err
	}

	s.log.Info("recorded reality snapshot", "handle", handle,
		"containers", len(snap.Containers), "pools", len(snap.Volumes))
	return handle, nil
}

// pruneSnapshots drops index entries and files beyond KeepSnapshots.
func (s *Store) pruneSnapshots() {
	if s.keepSnapshots <= 0 {
		return
	}
	excess := len(s.state.Reality.Snapshots) - s.keepSnapshots
	if excess <= 0 {
		return
	}

	for _, entry := range s.state.Reality.Snapshots[:excess] {
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to prune snapshot file",
				"path", entry.Path, "error", err)
		}
	}
	s.state.Reality.Snapshots = s.state.Reality.Snapshots[excess:]
}

// LastSnapshot loads the most recently recorded reality snapshot.
// Returns (nil, nil) when none has been recorded yet.
func (s *Store) LastSnapshot() (*reality.Snapshot, error) {
	n := len(s.state.Reality.Snapshots)
	if n == 0 {
		return nil, nil
	}
	entry := s.state.Reality.Snapshots[n-1]

	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", entry.Handle, err)
	}

	var snap reality.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", entry.Handle, err)
	}
	return &snap, nil
}

// Snapshots returns the snapshot index, oldest first.
func (s *Store) Snapshots() []SnapshotEntry {
	entries := make([]SnapshotEntry, len(s.state.Reality.Snapshots))
	copy(entries, s.state.Reality.Snapshots)
	return entries
}
