// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package zfs drives the zfs(8) command line for dataset management.
//
// Every operation shells out through an injected runner, so tests
// exercise the parsing and argument construction against canned
// output without a real pool.
package zfs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/tidepool/pkg/hostrun"
	"github.com/AleutianAI/tidepool/pkg/logging"
)

// trackedProperties are the dataset properties tidepool manages and
// reports. Everything else on the dataset is left alone.
var trackedProperties = []string{"atime", "compression", "recordsize", "sync"}

// Manager wraps zfs command execution.
type Manager struct {
	run hostrun.Runner
	log *logging.Logger
}

// NewManager returns a manager using the given runner.
func NewManager(run hostrun.Runner, log *logging.Logger) *Manager {
	if run == nil {
		run = hostrun.ExecRunner{}
	}
	if log == nil {
		log = logging.Default()
	}
	return &Manager{run: run, log: log}
}

// ListVolumes returns every filesystem dataset under pool keyed by
// full dataset path, with mountpoint and tracked properties.
func (m *Manager) ListVolumes(ctx context.Context, pool string) (map[string]map[string]string, error) {
	out, err := m.run.Run(ctx, "zfs", "list", "-H", "-p", "-r",
		"-o", "name,used,avail,mountpoint", "-t", "filesystem", pool)
	if err != nil {
		return nil, fmt.Errorf("listing datasets in %s: %w", pool, err)
	}

	volumes := make(map[string]map[string]string)
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			continue
		}
		name := fields[0]
		volumes[name] = map[string]string{
			"used":       fields[1],
			"avail":      fields[2],
			"mountpoint": fields[3],
		}
	}

	props, err := m.run.Run(ctx, "zfs", "get", "-H", "-p", "-r",
		"-o", "name,property,value", strings.Join(trackedProperties, ","), pool)
	if err != nil {
		return nil, fmt.Errorf("reading properties in %s: %w", pool, err)
	}
	for _, line := range splitLines(props) {
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		volume, ok := volumes[fields[0]]
		if !ok {
			continue
		}
		volume[fields[1]] = humanizeProperty(fields[1], fields[2])
	}

	return volumes, nil
}

// Exists reports whether the dataset exists.
func (m *Manager) Exists(ctx context.Context, volume string) (bool, error) {
	_, err := m.run.Run(ctx, "zfs", "list", "-H", "-o", "name", volume)
	if err == nil {
		return true, nil
	}
	var cmdErr *hostrun.CommandError
	if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "does not exist") {
		return false, nil
	}
	return false, fmt.Errorf("checking dataset %s: %w", volume, err)
}

// Create makes the dataset with the given properties and optional
// mountpoint. If the dataset already exists, properties are synced
// onto it instead.
func (m *Manager) Create(ctx context.Context, volume, mountpoint string, properties map[string]string) error {
	exists, err := m.Exists(ctx, volume)
	if err != nil {
		return err
	}
	if exists {
		m.log.Debug("dataset already exists, syncing properties", "volume", volume)
		return m.SyncProperties(ctx, volume, mountpoint, properties)
	}

	args := []string{"create", "-p"}
	for _, prop := range sortedKeys(properties) {
		args = append(args, "-o", prop+"="+properties[prop])
	}
	if mountpoint != "" {
		args = append(args, "-o", "mountpoint="+mountpoint)
	}
	args = append(args, volume)

	if _, err := m.run.Run(ctx, "zfs", args...); err != nil {
		return fmt.Errorf("creating dataset %s: %w", volume, err)
	}
	m.log.Info("dataset created", "volume", volume)
	return nil
}

// SetProperty sets one dataset property.
func (m *Manager) SetProperty(ctx context.Context, volume, property, value string) error {
	if _, err := m.run.Run(ctx, "zfs", "set", property+"="+value, volume); err != nil {
		return fmt.Errorf("setting %s=%s on %s: %w", property, value, volume, err)
	}
	return nil
}

// GetProperties reads the tracked properties plus mountpoint for one
// dataset.
func (m *Manager) GetProperties(ctx context.Context, volume string) (map[string]string, error) {
	wanted := strings.Join(append([]string{"mountpoint"}, trackedProperties...), ",")
	out, err := m.run.Run(ctx, "zfs", "get", "-H", "-p",
		"-o", "property,value", wanted, volume)
	if err != nil {
		return nil, fmt.Errorf("reading properties of %s: %w", volume, err)
	}

	props := make(map[string]string)
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		props[fields[0]] = humanizeProperty(fields[0], fields[1])
	}
	return props, nil
}

// SyncProperties sets every desired property whose live value differs.
func (m *Manager) SyncProperties(ctx context.Context, volume, mountpoint string, properties map[string]string) error {
	live, err := m.GetProperties(ctx, volume)
	if err != nil {
		return err
	}

	desired := make(map[string]string, len(properties)+1)
	for k, v := range properties {
		desired[k] = v
	}
	if mountpoint != "" {
		desired["mountpoint"] = mountpoint
	}

	for _, prop := range sortedKeys(desired) {
		value := desired[prop]
		if live[prop] == value {
			continue
		}
		if err := m.SetProperty(ctx, volume, prop, value); err != nil {
			return err
		}
		m.log.Info("property updated", "volume", volume,
			"property", prop, "old", live[prop], "new", value)
	}
	return nil
}

// Snapshot creates volume@name.
func (m *Manager) Snapshot(ctx context.Context, volume, name string) error {
	if _, err := m.run.Run(ctx, "zfs", "snapshot", volume+"@"+name); err != nil {
		return fmt.Errorf("snapshotting %s@%s: %w", volume, name, err)
	}
	return nil
}

// Rollback restores volume to the named snapshot. Force adds -r,
// destroying any snapshots newer than the target.
func (m *Manager) Rollback(ctx context.Context, volume, name string, force bool) error {
	args := []string{"rollback"}
	if force {
		args = append(args, "-r")
	}
	args = append(args, volume+"@"+name)

	if _, err := m.run.Run(ctx, "zfs", args...); err != nil {
		return fmt.Errorf("rolling back %s@%s: %w", volume, name, err)
	}
	return nil
}

// DestroySnapshot removes volume@name.
func (m *Manager) DestroySnapshot(ctx context.Context, volume, name string) error {
	if _, err := m.run.Run(ctx, "zfs", "destroy", volume+"@"+name); err != nil {
		return fmt.Errorf("destroying %s@%s: %w", volume, name, err)
	}
	return nil
}

// ListSnapshots returns the tidepool-created snapshot names on volume,
// oldest first.
func (m *Manager) ListSnapshots(ctx context.Context, volume string) ([]string, error) {
	out, err := m.run.Run(ctx, "zfs", "list", "-H", "-t", "snapshot",
		"-o", "name", "-s", "creation", "-r", volume)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots of %s: %w", volume, err)
	}

	var names []string
	for _, line := range splitLines(out) {
		_, snap, ok := strings.Cut(line, "@")
		if !ok {
			continue
		}
		if strings.HasPrefix(snap, "tidepool") {
			names = append(names, snap)
		}
	}
	return names, nil
}

// CleanupSnapshots destroys all but the newest keep tidepool
// snapshots on volume.
func (m *Manager) CleanupSnapshots(ctx context.Context, volume string, keep int) error {
	names, err := m.ListSnapshots(ctx, volume)
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	if len(names) <= keep {
		return nil
	}

	for _, name := range names[:len(names)-keep] {
		if err := m.DestroySnapshot(ctx, volume, name); err != nil {
			return err
		}
		m.log.Debug("pruned snapshot", "volume", volume, "snapshot", name)
	}
	return nil
}

// humanizeProperty renders byte-valued properties the way zfs renders
// them without -p, so comparisons against config values like "128K"
// work.
func humanizeProperty(property, value string) string {
	if property != "recordsize" {
		return value
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return value
	}
	switch {
	case n >= 1<<30 && n%(1<<30) == 0:
		return fmt.Sprintf("%dG", n>>30)
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dM", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dK", n>>10)
	default:
		return value
	}
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
