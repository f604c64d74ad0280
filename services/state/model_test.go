// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidepool/services/config"
)

func testDoc(t *testing.T) *config.Document {
	t.Helper()
	doc, err := config.Parse([]byte(`
pools:
  tank:
    datasets:
      media:
        profile: media
        mountpoint: /tank/media
        zfs:
          compression: lz4
        containers:
          - "jellyfin:/media:ro"
          - "sonarr:/data"
      documents:
        profile: docs
        containers:
          - "sonarr:/docs"
`))
	require.NoError(t, err)
	return doc
}

func TestBuildModel(t *testing.T) {
	model, err := Build(testDoc(t), "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, 1, model.Metadata.PoolCount)
	assert.Equal(t, 2, model.Metadata.VolumeCount)
	assert.Equal(t, 2, model.Metadata.ContainerCount)

	media, ok := model.Volumes["tank/media"]
	require.True(t, ok)
	assert.Equal(t, "tank", media.Pool)
	assert.Equal(t, "/tank/media", media.Mountpoint)
	assert.Equal(t, "lz4", media.Properties["compression"])
	require.Len(t, media.Containers, 2)
	assert.Equal(t, "jellyfin", media.Containers[0].Name)
}

func TestContainerIndexInvertsAttachments(t *testing.T) {
	model, err := Build(testDoc(t), "test.yaml")
	require.NoError(t, err)

	sonarr, ok := model.Containers["sonarr"]
	require.True(t, ok)
	require.Len(t, sonarr.Mounts, 2, "sonarr touches two volumes")
	assert.Equal(t, "tank/documents", sonarr.Mounts[0].Volume)
	assert.Equal(t, "tank/media", sonarr.Mounts[1].Volume)
	assert.Equal(t, []string{"docs", "media"}, sonarr.Profiles)

	jellyfin := model.Containers["jellyfin"]
	require.Len(t, jellyfin.Mounts, 1)
	assert.True(t, jellyfin.Mounts[0].ReadOnly)
}

func TestBuildIsDeterministic(t *testing.T) {
	doc := testDoc(t)

	first, err := Build(doc, "test.yaml")
	require.NoError(t, err)
	second, err := Build(doc, "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, first.Pools, second.Pools)
	assert.Equal(t, first.Volumes, second.Volumes)
	assert.Equal(t, first.Containers, second.Containers)
}

func TestBuildRejectsNilConfig(t *testing.T) {
	_, err := Build(nil, "test.yaml")
	assert.Error(t, err)
}

func TestBuildRejectsPoolWithoutDatasets(t *testing.T) {
	doc := &config.Document{Pools: map[string]config.Pool{"tank": {}}}
	_, err := Build(doc, "test.yaml")
	assert.Error(t, err)
}
