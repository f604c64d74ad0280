// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package recovery creates pre-apply checkpoints and rolls back to
// them when an apply fails partway.
//
// A checkpoint is a ZFS snapshot per affected volume plus a backup of
// each config file apply will touch. Checkpoints are persisted as JSON
// so rollback works from a fresh process after a crash.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/tidepool/pkg/logging"
)

// SnapshotPrefix marks snapshots created by checkpoints so cleanup
// never touches snapshots made by other tools.
const SnapshotPrefix = "tidepool"

// Snapshotter is the ZFS surface a checkpoint needs.
type Snapshotter interface {
	Snapshot(ctx context.Context, volume, name string) error
	Rollback(ctx context.Context, volume, name string, force bool) error
	DestroySnapshot(ctx context.Context, volume, name string) error
}

// Checkpoint records everything needed to restore the host to its
// pre-apply state.
type Checkpoint struct {
	Label         string            `json:"label"`
	Timestamp     time.Time         `json:"timestamp"`
	Volumes       []string          `json:"volumes"`
	Snapshots     map[string]string `json:"snapshots"`
	ConfigBackups map[string]string `json:"config_backups,omitempty"`
}

// Manager creates, persists, and restores checkpoints.
type Manager struct {
	zfs Snapshotter
	dir string
	log *logging.Logger
}

// NewManager returns a checkpoint manager storing checkpoint records
// under dir.
func NewManager(zfs Snapshotter, dir string, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{zfs: zfs, dir: dir, log: log}
}

// CreateCheckpoint snapshots every volume and backs up every config
// file before an apply touches them.
//
// All-or-nothing: if any snapshot fails, the ones already taken are
// destroyed and an error is returned, because a partial checkpoint
// cannot restore the host and is worse than none (it looks like
// protection).
func (m *Manager) CreateCheckpoint(ctx context.Context, label string, volumes, configFiles []string) (*Checkpoint, error) {
	now := time.Now().UTC()
	cp := &Checkpoint{
		Label:         label,
		Timestamp:     now,
		Volumes:       append([]string(nil), volumes...),
		Snapshots:     make(map[string]string, len(volumes)),
		ConfigBackups: make(map[string]string),
	}
	sort.Strings(cp.Volumes)

	snapName := fmt.Sprintf("%s_%s_%s", SnapshotPrefix, sanitizeLabel(label), now.Format("20060102_150405"))

	for _, volume := range cp.Volumes {
		if err := m.zfs.Snapshot(ctx, volume, snapName); err != nil {
			m.destroyPartial(ctx, cp)
			return nil, fmt.Errorf("snapshotting %s: %w", volume, err)
		}
		cp.Snapshots[volume] = snapName
		m.log.Debug("checkpoint snapshot created", "volume", volume, "snapshot", snapName)
	}

	for _, target := range configFiles {
		backup, err := m.backupConfig(target, now)
		if err != nil {
			m.destroyPartial(ctx, cp)
			return nil, fmt.Errorf("backing up %s: %w", target, err)
		}
		if backup != "" {
			cp.ConfigBackups[target] = backup
		}
	}

	if err := m.save(cp); err != nil {
		m.destroyPartial(ctx, cp)
		return nil, err
	}

	m.log.Info("checkpoint created", "label", label,
		"volumes", len(cp.Snapshots), "config_backups", len(cp.ConfigBackups))
	return cp, nil
}

func (m *Manager) destroyPartial(ctx context.Context, cp *Checkpoint) {
	for volume, name := range cp.Snapshots {
		if err := m.zfs.DestroySnapshot(ctx, volume, name); err != nil {
			m.log.Warn("failed to clean up partial checkpoint snapshot",
				"volume", volume, "snapshot", name, "error", err)
		}
	}
}

// backupConfig copies target into the checkpoint directory. A missing
// target is not an error: the apply may be about to create it, and
// rollback then simply leaves it absent.
func (m *Manager) backupConfig(target string, now time.Time) (string, error) {
	src, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer src.Close()

	backupDir := filepath.Join(m.dir, "config_backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", err
	}

	backup := filepath.Join(backupDir,
		fmt.Sprintf("%s_%s.bak", filepath.Base(target), now.Format("20060102_150405")))
	dst, err := os.Create(backup)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return backup, nil
}

// Rollback restores every volume and config file the checkpoint
// covers.
//
// ZFS refuses to roll back past intermediate snapshots without -r, so
// force maps to that flag. Failures are collected rather than
// stopping: a rollback that restores three of four volumes is still
// better than one that restores zero.
func (m *Manager) Rollback(ctx context.Context, cp *Checkpoint, force bool) error {
	var errs []error

	for _, volume := range cp.Volumes {
		name, ok := cp.Snapshots[volume]
		if !ok {
			continue
		}
		if err := m.zfs.Rollback(ctx, volume, name, force); err != nil {
			errs = append(errs, fmt.Errorf("rolling back %s: %w", volume, err))
			continue
		}
		m.log.Info("volume rolled back", "volume", volume, "snapshot", name)
	}

	for _, target := range sortedKeys(cp.ConfigBackups) {
		if err := restoreFile(cp.ConfigBackups[target], target); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", target, err))
			continue
		}
		m.log.Info("config file restored", "path", target)
	}

	return errors.Join(errs...)
}

func restoreFile(backup, target string) error {
	data, err := os.ReadFile(backup)
	if err != nil {
		return err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// save persists the checkpoint record (temp-then-rename).
func (m *Manager) save(cp *Checkpoint) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	path := m.path(cp.Label, cp.Timestamp)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}
	return nil
}

// Latest loads the most recent persisted checkpoint, or (nil, nil)
// when none exist.
func (m *Manager) Latest() (*Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	// Filenames embed the UTC timestamp, so lexical order is
	// chronological order.
	sort.Strings(names)
	return m.Load(filepath.Join(m.dir, names[len(names)-1]))
}

// Load reads a checkpoint record from disk.
func (m *Manager) Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	return &cp, nil
}

// CleanupSnapshots destroys the ZFS snapshots belonging to a
// checkpoint after a fully successful apply.
func (m *Manager) CleanupSnapshots(ctx context.Context, cp *Checkpoint) error {
	var errs []error
	for _, volume := range cp.Volumes {
		name, ok := cp.Snapshots[volume]
		if !ok {
			continue
		}
		if err := m.zfs.DestroySnapshot(ctx, volume, name); err != nil {
			errs = append(errs, fmt.Errorf("destroying %s@%s: %w", volume, name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) path(label string, ts time.Time) string {
	return filepath.Join(m.dir,
		fmt.Sprintf("%s_%s.json", ts.Format("20060102_150405"), sanitizeLabel(label)))
}

func sanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "checkpoint"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, label)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
