// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reality captures point-in-time snapshots of the live host.
//
// A Snapshot records what actually exists right now: the containers
// with their mounts and resources, and the volumes of every scanned
// pool with their tracked properties. Snapshots are immutable once
// recorded; drift detection only ever consults the latest one.
package reality

import (
	"context"
	"sort"
	"time"
)

// Snapshot is one capture of live host state.
type Snapshot struct {
	Metadata   Metadata                                `json:"metadata"`
	Containers []Container                             `json:"containers"`
	Volumes    map[string]map[string]map[string]string `json:"volumes"`
}

// Metadata describes when and how the snapshot was taken.
type Metadata struct {
	GeneratedAt    time.Time `json:"generated_at"`
	ContainerCount int       `json:"container_count"`
	PoolCount      int       `json:"pool_count"`
}

// Container is the observed state of one container.
type Container struct {
	VMID      int            `json:"vmid"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Mounts    []Mount        `json:"mounts"`
	Resources map[string]int `json:"resources,omitempty"`
}

// Mount is one observed container mount.
type Mount struct {
	Volume     string `json:"volume,omitempty"`
	MountPoint string `json:"mount_point"`
	ReadOnly   bool   `json:"readonly,omitempty"`
}

// ContainerByVMID returns the container with the given VMID, or nil.
func (s *Snapshot) ContainerByVMID(vmid int) *Container {
	for i := range s.Containers {
		if s.Containers[i].VMID == vmid {
			return &s.Containers[i]
		}
	}
	return nil
}

// ContainerByName returns the named container, or nil.
func (s *Snapshot) ContainerByName(name string) *Container {
	for i := range s.Containers {
		if s.Containers[i].Name == name {
			return &s.Containers[i]
		}
	}
	return nil
}

// Volume returns the properties of pool/path, or nil if the volume
// was not observed.
func (s *Snapshot) Volume(pool, path string) map[string]string {
	poolState, ok := s.Volumes[pool]
	if !ok {
		return nil
	}
	return poolState[path]
}

// VolumeLister is the volume-manager surface the collector needs.
type VolumeLister interface {
	ListVolumes(ctx context.Context, pool string) (map[string]map[string]string, error)
}

// ContainerInspector is the container-manager surface the collector needs.
type ContainerInspector interface {
	List(ctx context.Context) ([]ContainerInfo, error)
	Mounts(ctx context.Context, vmid int) (map[string]MountInfo, error)
	Resources(ctx context.Context, vmid int) (map[string]int, error)
}

// ContainerInfo is a container summary from the live manager.
type ContainerInfo struct {
	VMID   int
	Name   string
	Status string
}

// MountInfo is a parsed container mount entry from the live manager.
type MountInfo struct {
	Volume     string
	MountPoint string
	ReadOnly   bool
}

// Collector assembles snapshots from the live resource managers.
type Collector struct {
	volumes    VolumeLister
	containers ContainerInspector
}

// NewCollector wires a collector to live managers.
func NewCollector(volumes VolumeLister, containers ContainerInspector) *Collector {
	return &Collector{volumes: volumes, containers: containers}
}

// Collect captures the current state of the given pools and of all
// containers on the host.
func (c *Collector) Collect(ctx context.Context, pools []string) (*Snapshot, error) {
	volumes := make(map[string]map[string]map[string]string, len(pools))
	for _, pool := range pools {
		listed, err := c.volumes.ListVolumes(ctx, pool)
		if err != nil {
			return nil, err
		}
		volumes[pool] = listed
	}

	infos, err := c.containers.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].VMID < infos[j].VMID })

	containers := make([]Container, 0, len(infos))
	for _, info := range infos {
		entry := Container{
			VMID:   info.VMID,
			Name:   info.Name,
			Status: info.Status,
		}

		mounts, err := c.containers.Mounts(ctx, info.VMID)
		if err != nil {
			return nil, err
		}
		for _, key := range sortedMountKeys(mounts) {
			m := mounts[key]
			entry.Mounts = append(entry.Mounts, Mount{
				Volume:     m.Volume,
				MountPoint: m.MountPoint,
				ReadOnly:   m.ReadOnly,
			})
		}

		resources, err := c.containers.Resources(ctx, info.VMID)
		if err == nil && len(resources) > 0 {
			entry.Resources = resources
		}

		containers = append(containers, entry)
	}

	return &Snapshot{
		Metadata: Metadata{
			GeneratedAt:    time.Now().UTC(),
			ContainerCount: len(containers),
			PoolCount:      len(volumes),
		},
		Containers: containers,
		Volumes:    volumes,
	}, nil
}

func sortedMountKeys(m map[string]MountInfo) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
