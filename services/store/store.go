// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists what tidepool knows across runs.
//
// Two things live here. The managed-state ledger distinguishes
// resources created by tidepool from pre-existing ("adopted") ones —
// it, not any reality snapshot, is authoritative for what the tool
// owns and may destroy. And the reality snapshot store keeps one file
// per capture plus an index pointing at the latest, consumed by drift
// detection.
//
// All writes follow the write-temp-then-rename discipline so a crash
// never leaves a corrupt state file. Recorded snapshots are never
// mutated.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/tidepool/pkg/logging"
)

const stateVersion = "1.0"

// ShareSMB and ShareNFS are the recognized share kinds.
const (
	ShareSMB = "smb"
	ShareNFS = "nfs"
)

// Options configure a Store.
type Options struct {
	// StateFile is the ledger path. Default: <dir>/state.json next
	// to the snapshot directory.
	StateFile string

	// SnapshotDir holds one file per reality capture.
	SnapshotDir string

	// KeepSnapshots bounds retained snapshot files. 0 means keep all.
	KeepSnapshots int

	// Disabled turns the store into a no-op sink (dry runs, or the
	// TIDEPOOL_STATELESS environment flag).
	Disabled bool

	Logger *logging.Logger
}

// Store tracks managed resources and recorded reality snapshots.
type Store struct {
	stateFile     string
	snapshotDir   string
	keepSnapshots int
	disabled      bool
	log           *logging.Logger
	state         fileState
}

// ResourceRecord is one ledger entry. The CreatedByTool flag is set
// at creation time and never retroactively changed.
type ResourceRecord struct {
	CreatedByTool bool      `json:"created_by_tool"`
	Timestamp     time.Time `json:"timestamp"`
}

// MountRecord tracks one managed container mount.
type MountRecord struct {
	Volume        string    `json:"volume"`
	CreatedByTool bool      `json:"created_by_tool"`
	Timestamp     time.Time `json:"timestamp"`
}

// ShareRecord tracks one managed share.
type ShareRecord struct {
	Volume        string    `json:"volume"`
	CreatedByTool bool      `json:"created_by_tool"`
	Timestamp     time.Time `json:"timestamp"`
}

// SnapshotEntry indexes one recorded reality snapshot.
type SnapshotEntry struct {
	Handle     string          `json:"handle"`
	Path       string          `json:"path"`
	RecordedAt time.Time       `json:"recorded_at"`
	Summary    SnapshotSummary `json:"summary"`
}

// SnapshotSummary carries headline counts for the index.
type SnapshotSummary struct {
	Containers int `json:"containers"`
	Pools      int `json:"pools"`
}

type fileState struct {
	Version    string                            `json:"version"`
	CreatedAt  time.Time                         `json:"created_at"`
	UpdatedAt  time.Time                         `json:"updated_at"`
	Volumes    map[string]ResourceRecord         `json:"volumes"`
	Containers map[string]ResourceRecord         `json:"containers"`
	Mounts     map[string]map[string]MountRecord `json:"mounts"`
	Shares     map[string]map[string]ShareRecord `json:"shares"`
	External   externalState                     `json:"external"`
	Reality    realityIndex                      `json:"reality"`
}

type externalState struct {
	Volumes []string `json:"volumes"`
}

type realityIndex struct {
	Snapshots []SnapshotEntry `json:"snapshots"`
}

// Stats summarizes ledger contents.
type Stats struct {
	VolumesManaged    int `json:"volumes_managed"`
	VolumesCreated    int `json:"volumes_created"`
	VolumesExternal   int `json:"volumes_external"`
	ContainersManaged int `json:"containers_managed"`
	ContainersCreated int `json:"containers_created"`
	MountsManaged     int `json:"mounts_managed"`
	SMBShares         int `json:"smb_shares"`
	NFSShares         int `json:"nfs_shares"`
	RealitySnapshots  int `json:"reality_snapshots"`
}

// Open loads the ledger, starting empty when no state file exists or
// the existing one cannot be parsed (the corrupt file is preserved on
// disk until the next save).
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.StateFile == "" {
		return nil, fmt.Errorf("store: state file path is required")
	}
	if opts.SnapshotDir == "" {
		opts.SnapshotDir = filepath.Join(filepath.Dir(opts.StateFile), "reality")
	}
	if os.Getenv("TIDEPOOL_STATELESS") != "" {
		opts.Disabled = true
	}

	s := &Store{
		stateFile:     opts.StateFile,
		snapshotDir:   opts.SnapshotDir,
		keepSnapshots: opts.KeepSnapshots,
		disabled:      opts.Disabled,
		log:           opts.Logger,
	}
	s.state = s.load()
	return s, nil
}

func (s *Store) load() fileState {
	data, err := os.ReadFile(s.stateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read state file, starting empty",
				"path", s.stateFile, "error", err)
		}
		return emptyState()
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn("failed to parse state file, starting empty",
			"path", s.stateFile, "error", err)
		return emptyState()
	}
	normalizeState(&state)
	return state
}

func emptyState() fileState {
	now := time.Now().UTC()
	state := fileState{
		Version:   stateVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}
	normalizeState(&state)
	return state
}

// normalizeState guarantees non-nil maps after a load of any vintage.
func normalizeState(state *fileState) {
	if state.Volumes == nil {
		state.Volumes = make(map[string]ResourceRecord)
	}
	if state.Containers == nil {
		state.Containers = make(map[string]ResourceRecord)
	}
	if state.Mounts == nil {
		state.Mounts = make(map[string]map[string]MountRecord)
	}
	if state.Shares == nil {
		state.Shares = map[string]map[string]ShareRecord{
			ShareSMB: {},
			ShareNFS: {},
		}
	}
	for _, kind := range []string{ShareSMB, ShareNFS} {
		if state.Shares[kind] == nil {
			state.Shares[kind] = make(map[string]ShareRecord)
		}
	}
	if state.External.Volumes == nil {
		state.External.Volumes = []string{}
	}
}

// Save writes the ledger atomically (temp file, then rename). It is a
// no-op when tracking is disabled.
func (s *Store) Save() error {
	if s.disabled {
		s.log.Debug("state tracking disabled, skipping save")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.stateFile), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	s.state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := s.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing state temp file: %w", err)
	}
	if err := os.Rename(tmp, s.stateFile); err != nil {
		return fmt.Errorf("committing state file: %w", err)
	}
	return nil
}

// Enabled reports whether tracking is active.
func (s *Store) Enabled() bool {
	return !s.disabled
}

// MarkVolumeManaged records a volume as managed. created is true when
// tidepool created it, false when it was adopted.
func (s *Store) MarkVolumeManaged(path string, created bool) error {
	s.state.Volumes[path] = ResourceRecord{
		CreatedByTool: created,
		Timestamp:     time.Now().UTC(),
	}
	return s.Save()
}

// MarkVolumeExternal records a pre-existing volume.
func (s *Store) MarkVolumeExternal(path string) error {
	for _, v := range s.state.External.Volumes {
		if v == path {
			return nil
		}
	}
	s.state.External.Volumes = append(s.state.External.Volumes, path)
	s.log.Info("marked volume as external (pre-existing)", "volume", path)
	return s.Save()
}

// ForgetVolume removes a volume's ledger entry after deletion.
func (s *Store) ForgetVolume(path string) error {
	delete(s.state.Volumes, path)
	return s.Save()
}

// IsVolumeManaged reports whether a volume is tracked.
func (s *Store) IsVolumeManaged(path string) bool {
	_, ok := s.state.Volumes[path]
	return ok
}

// WasCreatedByTool reports whether tidepool originally created the
// volume (false for adopted resources).
func (s *Store) WasCreatedByTool(path string) bool {
	return s.state.Volumes[path].CreatedByTool
}

// ManagedVolumes lists every tracked volume path.
func (s *Store) ManagedVolumes() []string {
	paths := make([]string, 0, len(s.state.Volumes))
	for path := range s.state.Volumes {
		paths = append(paths, path)
	}
	return paths
}

// MarkContainerManaged records a container as managed.
func (s *Store) MarkContainerManaged(name string, created bool) error {
	s.state.Containers[name] = ResourceRecord{
		CreatedByTool: created,
		Timestamp:     time.Now().UTC(),
	}
	return s.Save()
}

// ForgetContainer removes a container's ledger entry.
func (s *Store) ForgetContainer(name string) error {
	delete(s.state.Containers, name)
	delete(s.state.Mounts, name)
	return s.Save()
}

// MarkMountManaged records one container mount as managed.
func (s *Store) MarkMountManaged(container, mountPoint, volume string, created bool) error {
	if s.state.Mounts[container] == nil {
		s.state.Mounts[container] = make(map[string]MountRecord)
	}
	s.state.Mounts[container][mountPoint] = MountRecord{
		Volume:        volume,
		CreatedByTool: created,
		Timestamp:     time.Now().UTC(),
	}
	return s.Save()
}

// IsMountManaged reports whether a container mount is tracked.
func (s *Store) IsMountManaged(container, mountPoint string) bool {
	_, ok := s.state.Mounts[container][mountPoint]
	return ok
}

// MarkShareManaged records a share as managed. kind must be ShareSMB
// or ShareNFS.
func (s *Store) MarkShareManaged(kind, name, volume string, created bool) error {
	if kind != ShareSMB && kind != ShareNFS {
		return fmt.Errorf("invalid share kind %q", kind)
	}
	s.state.Shares[kind][name] = ShareRecord{
		Volume:        volume,
		CreatedByTool: created,
		Timestamp:     time.Now().UTC(),
	}
	return s.Save()
}

// IsShareManaged reports whether a share is tracked.
func (s *Store) IsShareManaged(kind, name string) bool {
	if kind != ShareSMB && kind != ShareNFS {
		return false
	}
	_, ok := s.state.Shares[kind][name]
	return ok
}

// Stats returns ledger counters.
func (s *Store) Stats() Stats {
	stats := Stats{
		VolumesManaged:    len(s.state.Volumes),
		VolumesExternal:   len(s.state.External.Volumes),
		ContainersManaged: len(s.state.Containers),
		SMBShares:         len(s.state.Shares[ShareSMB]),
		NFSShares:         len(s.state.Shares[ShareNFS]),
		RealitySnapshots:  len(s.state.Reality.Snapshots),
	}
	for _, record := range s.state.Volumes {
		if record.CreatedByTool {
			stats.VolumesCreated++
		}
	}
	for _, record := range s.state.Containers {
		if record.CreatedByTool {
			stats.ContainersCreated++
		}
	}
	for _, mounts := range s.state.Mounts {
		stats.MountsManaged += len(mounts)
	}
	return stats
}
