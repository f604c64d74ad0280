// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reality

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVolumes struct {
	pools map[string]map[string]map[string]string
	err   error
}

func (f *fakeVolumes) ListVolumes(_ context.Context, pool string) (map[string]map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pools[pool], nil
}

type fakeContainers struct {
	infos     []ContainerInfo
	mounts    map[int]map[string]MountInfo
	resources map[int]map[string]int
	resErr    error
}

func (f *fakeContainers) List(_ context.Context) ([]ContainerInfo, error) {
	return f.infos, nil
}

func (f *fakeContainers) Mounts(_ context.Context, vmid int) (map[string]MountInfo, error) {
	return f.mounts[vmid], nil
}

func (f *fakeContainers) Resources(_ context.Context, vmid int) (map[string]int, error) {
	if f.resErr != nil {
		return nil, f.resErr
	}
	return f.resources[vmid], nil
}

func TestCollect(t *testing.T) {
	vols := &fakeVolumes{pools: map[string]map[string]map[string]string{
		"tank": {"tank/media": {"mountpoint": "/tank/media"}},
	}}
	cts := &fakeContainers{
		infos: []ContainerInfo{
			{VMID: 101, Name: "sonarr", Status: "stopped"},
			{VMID: 100, Name: "jellyfin", Status: "running"},
		},
		mounts: map[int]map[string]MountInfo{
			100: {
				"mp1": {Volume: "/tank/other", MountPoint: "/other"},
				"mp0": {Volume: "/tank/media", MountPoint: "/media", ReadOnly: true},
			},
		},
		resources: map[int]map[string]int{
			100: {"memory": 2048, "cores": 2},
		},
	}

	snap, err := NewCollector(vols, cts).Collect(context.Background(), []string{"tank"})
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Metadata.ContainerCount)
	assert.Equal(t, 1, snap.Metadata.PoolCount)
	assert.False(t, snap.Metadata.GeneratedAt.IsZero())

	// Containers come back sorted by VMID; mounts by slot key.
	require.Len(t, snap.Containers, 2)
	assert.Equal(t, "jellyfin", snap.Containers[0].Name)
	require.Len(t, snap.Containers[0].Mounts, 2)
	assert.Equal(t, "/media", snap.Containers[0].Mounts[0].MountPoint)
	assert.Equal(t, 2048, snap.Containers[0].Resources["memory"])
	assert.Nil(t, snap.Containers[1].Resources)
}

func TestCollectToleratesResourceErrors(t *testing.T) {
	cts := &fakeContainers{
		infos:  []ContainerInfo{{VMID: 100, Name: "jellyfin"}},
		resErr: errors.New("pct unavailable"),
	}
	snap, err := NewCollector(&fakeVolumes{}, cts).Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, snap.Containers[0].Resources)
}

func TestCollectPropagatesVolumeErrors(t *testing.T) {
	vols := &fakeVolumes{err: errors.New("pool offline")}
	_, err := NewCollector(vols, &fakeContainers{}).Collect(context.Background(), []string{"tank"})
	assert.Error(t, err)
}

func TestSnapshotAccessors(t *testing.T) {
	snap := &Snapshot{
		Containers: []Container{{VMID: 100, Name: "jellyfin"}},
		Volumes: map[string]map[string]map[string]string{
			"tank": {"tank/media": {"compression": "lz4"}},
		},
	}

	require.NotNil(t, snap.ContainerByName("jellyfin"))
	assert.Nil(t, snap.ContainerByName("ghost"))

	require.NotNil(t, snap.ContainerByVMID(100))
	assert.Nil(t, snap.ContainerByVMID(999))

	assert.Equal(t, "lz4", snap.Volume("tank", "tank/media")["compression"])
	assert.Nil(t, snap.Volume("tank", "tank/ghost"))
	assert.Nil(t, snap.Volume("rpool", "rpool/x"))
}
