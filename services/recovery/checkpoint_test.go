// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidepool/pkg/logging"
)

// fakeZFS records snapshot operations and can fail on demand.
type fakeZFS struct {
	snapshots  map[string]string
	rolledBack []string
	destroyed  []string
	failOn     string
}

func newFakeZFS() *fakeZFS {
	return &fakeZFS{snapshots: map[string]string{}}
}

func (f *fakeZFS) Snapshot(_ context.Context, volume, name string) error {
	if volume == f.failOn {
		return errors.New("injected snapshot failure")
	}
	f.snapshots[volume] = name
	return nil
}

func (f *fakeZFS) Rollback(_ context.Context, volume, name string, force bool) error {
	if volume == f.failOn {
		return errors.New("injected rollback failure")
	}
	f.rolledBack = append(f.rolledBack, fmt.Sprintf("%s@%s force=%t", volume, name, force))
	return nil
}

func (f *fakeZFS) DestroySnapshot(_ context.Context, volume, name string) error {
	f.destroyed = append(f.destroyed, volume+"@"+name)
	return nil
}

func newTestManager(t *testing.T, zfs Snapshotter) *Manager {
	t.Helper()
	return NewManager(zfs, filepath.Join(t.TempDir(), "checkpoints"), logging.Discard())
}

func TestCreateCheckpoint(t *testing.T) {
	zfs := newFakeZFS()
	mgr := newTestManager(t, zfs)

	cp, err := mgr.CreateCheckpoint(context.Background(), "apply",
		[]string{"tank/media", "tank/documents"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "apply", cp.Label)
	require.Len(t, cp.Snapshots, 2)
	assert.Equal(t, cp.Snapshots["tank/media"], cp.Snapshots["tank/documents"],
		"one snapshot name spans the whole checkpoint")
	assert.True(t, strings.HasPrefix(cp.Snapshots["tank/media"], "tidepool_apply_"))
}

func TestCheckpointIsAllOrNothing(t *testing.T) {
	zfs := newFakeZFS()
	zfs.failOn = "tank/documents"
	mgr := newTestManager(t, zfs)

	_, err := mgr.CreateCheckpoint(context.Background(), "apply",
		[]string{"tank/documents", "tank/media"}, nil)
	require.Error(t, err)
	assert.Empty(t, zfs.snapshots["tank/documents"])
}

func TestPartialCheckpointSnapshotsAreDestroyed(t *testing.T) {
	zfs := newFakeZFS()
	zfs.failOn = "tank/media"
	mgr := newTestManager(t, zfs)

	// Volumes are sorted, so tank/documents snapshots first and must
	// be cleaned up when tank/media fails.
	_, err := mgr.CreateCheckpoint(context.Background(), "apply",
		[]string{"tank/media", "tank/documents"}, nil)
	require.Error(t, err)
	require.Len(t, zfs.destroyed, 1)
	assert.True(t, strings.HasPrefix(zfs.destroyed[0], "tank/documents@"))
}

func TestRollbackRestoresVolumesAndConfigs(t *testing.T) {
	zfs := newFakeZFS()
	mgr := newTestManager(t, zfs)

	target := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0644))

	cp, err := mgr.CreateCheckpoint(context.Background(), "apply",
		[]string{"tank/media"}, []string{target})
	require.NoError(t, err)
	require.Len(t, cp.ConfigBackups, 1)

	require.NoError(t, os.WriteFile(target, []byte("clobbered"), 0644))

	require.NoError(t, mgr.Rollback(context.Background(), cp, true))

	require.Len(t, zfs.rolledBack, 1)
	assert.Contains(t, zfs.rolledBack[0], "force=true")

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(restored))
}

func TestRollbackCollectsFailures(t *testing.T) {
	zfs := newFakeZFS()
	mgr := newTestManager(t, zfs)

	cp, err := mgr.CreateCheckpoint(context.Background(), "apply",
		[]string{"tank/documents", "tank/media"}, nil)
	require.NoError(t, err)

	zfs.failOn = "tank/documents"
	err = mgr.Rollback(context.Background(), cp, false)
	require.Error(t, err)
	assert.Len(t, zfs.rolledBack, 1, "the healthy volume still rolls back")
}

func TestMissingConfigFileIsNotAnError(t *testing.T) {
	mgr := newTestManager(t, newFakeZFS())

	cp, err := mgr.CreateCheckpoint(context.Background(), "apply",
		[]string{"tank/media"}, []string{"/nonexistent/config.yaml"})
	require.NoError(t, err)
	assert.Empty(t, cp.ConfigBackups)
}

func TestLatestFindsNewestCheckpoint(t *testing.T) {
	zfs := newFakeZFS()
	dir := filepath.Join(t.TempDir(), "checkpoints")
	mgr := NewManager(zfs, dir, logging.Discard())

	none, err := mgr.Latest()
	require.NoError(t, err)
	assert.Nil(t, none)

	first, err := mgr.CreateCheckpoint(context.Background(), "first", []string{"tank/a"}, nil)
	require.NoError(t, err)

	// Force a distinct filename timestamp ordering.
	second := &Checkpoint{
		Label:     "second",
		Timestamp: first.Timestamp.Add(time.Second),
		Volumes:   []string{"tank/b"},
		Snapshots: map[string]string{"tank/b": "tidepool_second_x"},
	}
	require.NoError(t, mgr.save(second))

	latest, err := mgr.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "second", latest.Label)
}

func TestCleanupSnapshots(t *testing.T) {
	zfs := newFakeZFS()
	mgr := newTestManager(t, zfs)

	cp, err := mgr.CreateCheckpoint(context.Background(), "apply",
		[]string{"tank/media"}, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.CleanupSnapshots(context.Background(), cp))
	require.Len(t, zfs.destroyed, 1)
	assert.True(t, strings.HasPrefix(zfs.destroyed[0], "tank/media@tidepool_apply_"))
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "checkpoint", sanitizeLabel("  "))
	assert.Equal(t, "pre-apply_1", sanitizeLabel("pre-apply_1"))
	assert.Equal(t, "a-b-c", sanitizeLabel("a b/c"))
}
