// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package capacity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidepool/services/config"
	"github.com/AleutianAI/tidepool/services/state"
)

func TestParseMemoryMB(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"2G", 2048},
		{"2g", 2048},
		{"512M", 512},
		{"1.5G", 1536},
		{"2048", 2048},
		{" 4G ", 4096},
		{"", 512},
		{"lots", 512},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseMemoryMB(tc.in, DefaultMemoryMB))
		})
	}
}

func modelWithContainer(t *testing.T, memory string, cores int) *state.Model {
	t.Helper()
	doc := &config.Document{Pools: map[string]config.Pool{
		"tank": {Datasets: map[string]config.Dataset{
			"data": {Containers: []config.ContainerSpec{{
				Name:       "app",
				Mount:      "/data",
				AutoCreate: true,
				Template:   "local:vztmpl/debian-12.tar.zst",
				Resources:  config.Resources{Memory: config.MemoryValue(memory), Cores: cores},
			}}},
		}},
	}}
	model, err := state.Build(doc, "test.yaml")
	require.NoError(t, err)
	return model
}

func TestRequestAtFullCapacityIsAnError(t *testing.T) {
	model := modelWithContainer(t, "4G", 1)
	result := Validate(model, HostResources{TotalMemoryMB: 4096, TotalCores: 8})

	assert.Equal(t, 1, result.AutoCreateCount)
	assert.Equal(t, 4096, result.TotalMemoryMB)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "4096 MB")
	assert.Empty(t, result.Warnings)
	assert.True(t, result.HasErrors())
}

func TestRequestNearCapacityIsAWarning(t *testing.T) {
	model := modelWithContainer(t, "3800", 1)
	result := Validate(model, HostResources{TotalMemoryMB: 4096, TotalCores: 8})

	assert.Empty(t, result.Errors)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "RAM")
}

func TestComfortableRequestIsClean(t *testing.T) {
	model := modelWithContainer(t, "1G", 2)
	result := Validate(model, HostResources{TotalMemoryMB: 16384, TotalCores: 8})

	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.False(t, result.HasErrors())
}

func TestCoreOversubscriptionIsAnError(t *testing.T) {
	model := modelWithContainer(t, "1G", 8)
	result := Validate(model, HostResources{TotalMemoryMB: 16384, TotalCores: 4})

	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "cores")
}

func TestNonAutoCreateContainersAreIgnored(t *testing.T) {
	doc := &config.Document{Pools: map[string]config.Pool{
		"tank": {Datasets: map[string]config.Dataset{
			"data": {Containers: []config.ContainerSpec{{
				Name:      "adopted",
				Mount:     "/data",
				Resources: config.Resources{Memory: "64G"},
			}}},
		}},
	}}
	model, err := state.Build(doc, "test.yaml")
	require.NoError(t, err)

	result := Validate(model, HostResources{TotalMemoryMB: 4096, TotalCores: 2})
	assert.Equal(t, 0, result.AutoCreateCount)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestUnparseableMemoryFallsBackToDefault(t *testing.T) {
	model := modelWithContainer(t, "plenty", 1)
	result := Validate(model, HostResources{TotalMemoryMB: 4096, TotalCores: 8})
	assert.Equal(t, DefaultMemoryMB, result.TotalMemoryMB)
}

func TestDetectHostParsesMeminfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path, []byte(
		"MemTotal:       16384000 kB\nMemFree:         1000000 kB\nSwapTotal:       2048000 kB\n"), 0644))

	origPath, origCPU := meminfoPath, numCPU
	meminfoPath = path
	numCPU = func() int { return 12 }
	defer func() { meminfoPath, numCPU = origPath, origCPU }()

	host, err := DetectHost()
	require.NoError(t, err)
	assert.Equal(t, 16000, host.TotalMemoryMB)
	assert.Equal(t, 2000, host.TotalSwapMB)
	assert.Equal(t, 12, host.TotalCores)
}

func TestDetectHostMissingMemTotal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path, []byte("MemFree: 1 kB\n"), 0644))

	orig := meminfoPath
	meminfoPath = path
	defer func() { meminfoPath = orig }()

	_, err := DetectHost()
	assert.Error(t, err)
}
