// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidepool/pkg/logging"
	"github.com/AleutianAI/tidepool/services/reality"
)

func sampleSnapshot() *reality.Snapshot {
	return &reality.Snapshot{
		Metadata: reality.Metadata{GeneratedAt: time.Now().UTC(), ContainerCount: 1, PoolCount: 1},
		Containers: []reality.Container{
			{VMID: 100, Name: "jellyfin", Status: "running",
				Mounts: []reality.Mount{{Volume: "/tank/media", MountPoint: "/media", ReadOnly: true}}},
		},
		Volumes: map[string]map[string]map[string]string{
			"tank": {
				"tank/media": {"mountpoint": "/tank/media", "compression": "lz4"},
			},
		},
	}
}

func TestRecordAndLoadSnapshot(t *testing.T) {
	s := testStore(t)

	handle, err := s.RecordSnapshot(sampleSnapshot())
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	loaded, err := s.LastSnapshot()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "jellyfin", loaded.Containers[0].Name)
	assert.Equal(t, "lz4", loaded.Volume("tank", "tank/media")["compression"])

	entries := s.Snapshots()
	require.Len(t, entries, 1)
	assert.Equal(t, handle, entries[0].Handle)
	assert.Equal(t, 1, entries[0].Summary.Containers)
}

func TestLastSnapshotWhenNoneRecorded(t *testing.T) {
	s := testStore(t)
	snap, err := s.LastSnapshot()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSnapshotPruning(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{
		StateFile:     filepath.Join(dir, "state.json"),
		SnapshotDir:   filepath.Join(dir, "reality"),
		KeepSnapshots: 2,
		Logger:        logging.Discard(),
	})
	require.NoError(t, err)

	var handles []string
	for i := 0; i < 4; i++ {
		handle, err := s.RecordSnapshot(sampleSnapshot())
		require.NoError(t, err)
		handles = append(handles, handle)
	}

	entries := s.Snapshots()
	require.Len(t, entries, 2)
	assert.Equal(t, handles[2], entries[0].Handle)
	assert.Equal(t, handles[3], entries[1].Handle)

	files, err := os.ReadDir(filepath.Join(dir, "reality"))
	require.NoError(t, err)
	assert.Len(t, files, 2, "pruned snapshot files must be deleted")
}

func TestRecordSnapshotDisabled(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{
		StateFile: filepath.Join(dir, "state.json"),
		Disabled:  true,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)

	handle, err := s.RecordSnapshot(sampleSnapshot())
	require.NoError(t, err)
	assert.Empty(t, handle)
	assert.Empty(t, s.Snapshots())
}

func TestRecordSnapshotRejectsNil(t *testing.T) {
	s := testStore(t)
	_, err := s.RecordSnapshot(nil)
	assert.Error(t, err)
}
