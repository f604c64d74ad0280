// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package state builds the canonical desired-state model.
//
// The model is the diff-friendly normalization of a validated
// configuration: pools → volumes → properties/mountpoint/shares, plus
// a derived container index built by inverting the volume→container
// relation. Construction is pure and deterministic — identical input
// produces identical output (collections are sorted wherever order is
// not semantically meaningful), so the model can be hashed or diffed
// for change detection.
package state

import (
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/tidepool/services/config"
)

// Model is the canonical desired-state document.
type Model struct {
	Metadata   Metadata             `json:"metadata"`
	Pools      []PoolSummary        `json:"pools"`
	Volumes    map[string]Volume    `json:"volumes"`
	Containers map[string]Container `json:"containers"`
}

// Metadata records provenance for audit and debugging. It carries no
// reconciliation semantics.
type Metadata struct {
	GeneratedAt    time.Time `json:"generated_at"`
	Source         string    `json:"source"`
	PoolCount      int       `json:"pool_count"`
	VolumeCount    int       `json:"volume_count"`
	ContainerCount int       `json:"container_count"`
	Version        string    `json:"version"`
}

// PoolSummary lists the volumes declared under one pool, sorted by path.
type PoolSummary struct {
	Name    string      `json:"name"`
	Volumes []VolumeRef `json:"volumes"`
}

// VolumeRef names a volume within a pool summary.
type VolumeRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Volume is the normalized form of one dataset declaration. Path is
// the canonical "pool/name" identity used as the join key everywhere.
type Volume struct {
	Name       string            `json:"name"`
	Pool       string            `json:"pool"`
	Path       string            `json:"path"`
	Profile    string            `json:"profile,omitempty"`
	Mountpoint string            `json:"mountpoint,omitempty"`
	Properties map[string]string `json:"properties"`
	Shares     config.Shares     `json:"shares"`
	Containers []Attachment      `json:"containers"`
	AutoParent bool              `json:"auto_parent,omitempty"`
}

// Attachment is a container's claim on a volume.
type Attachment struct {
	Name        string           `json:"name"`
	VMID        int              `json:"vmid,omitempty"`
	Mount       string           `json:"mount"`
	Permissions string           `json:"permissions,omitempty"`
	ReadOnly    bool             `json:"readonly,omitempty"`
	AutoCreate  bool             `json:"auto_create,omitempty"`
	Template    string           `json:"template,omitempty"`
	Resources   config.Resources `json:"resources,omitempty"`
}

// Container is the derived per-container view: one mount entry for
// every volume the container touches, plus the sorted set of profiles
// of those volumes.
type Container struct {
	Name       string           `json:"name"`
	VMID       int              `json:"vmid,omitempty"`
	Mounts     []Mount          `json:"mounts"`
	Profiles   []string         `json:"profiles"`
	AutoCreate bool             `json:"auto_create,omitempty"`
	Template   string           `json:"template,omitempty"`
	Resources  config.Resources `json:"resources,omitempty"`
}

// Mount is one container-mount entry in the derived index.
type Mount struct {
	Volume      string `json:"volume"`
	MountPoint  string `json:"mount_point"`
	Permissions string `json:"permissions,omitempty"`
	ReadOnly    bool   `json:"readonly,omitempty"`
}

// Build constructs the model from a validated configuration.
//
// It fails only on structurally malformed input (no pools, a pool
// with no datasets); such a failure is a config error, not a runtime
// condition to retry.
func Build(doc *config.Document, source string) (*Model, error) {
	if doc == nil || len(doc.Pools) == 0 {
		return nil, fmt.Errorf("config declares no pools")
	}

	volumes := make(map[string]Volume)
	containers := make(map[string]*Container)

	poolNames := sortedKeys(doc.Pools)
	pools := make([]PoolSummary, 0, len(poolNames))

	for _, poolName := range poolNames {
		pool := doc.Pools[poolName]
		if len(pool.Datasets) == 0 {
			return nil, fmt.Errorf("pool %q declares no datasets", poolName)
		}

		summary := PoolSummary{Name: poolName}
		for _, volumeName := range sortedKeys(pool.Datasets) {
			dataset := pool.Datasets[volumeName]
			path := poolName + "/" + volumeName

			volume := normalizeVolume(poolName, volumeName, path, dataset)
			volumes[path] = volume
			summary.Volumes = append(summary.Volumes, VolumeRef{Name: volumeName, Path: path})

			indexAttachments(containers, volume)
		}

		sort.Slice(summary.Volumes, func(i, j int) bool {
			return summary.Volumes[i].Path < summary.Volumes[j].Path
		})
		pools = append(pools, summary)
	}

	index := make(map[string]Container, len(containers))
	for name, c := range containers {
		sort.Slice(c.Mounts, func(i, j int) bool {
			return c.Mounts[i].Volume < c.Mounts[j].Volume
		})
		sort.Strings(c.Profiles)
		index[name] = *c
	}

	return &Model{
		Metadata: Metadata{
			GeneratedAt:    time.Now().UTC(),
			Source:         source,
			PoolCount:      len(pools),
			VolumeCount:    len(volumes),
			ContainerCount: len(index),
			Version:        "1.0",
		},
		Pools:      pools,
		Volumes:    volumes,
		Containers: index,
	}, nil
}

// normalizeVolume builds a deterministic volume entry.
func normalizeVolume(poolName, volumeName, path string, dataset config.Dataset) Volume {
	attachments := make([]Attachment, 0, len(dataset.Containers))
	for _, spec := range dataset.Containers {
		attachments = append(attachments, Attachment{
			Name:        spec.Name,
			VMID:        spec.VMID,
			Mount:       spec.Mount,
			Permissions: spec.Permissions,
			ReadOnly:    spec.ReadOnly,
			AutoCreate:  spec.AutoCreate,
			Template:    spec.Template,
			Resources:   spec.Resources,
		})
	}
	sort.Slice(attachments, func(i, j int) bool {
		if attachments[i].Name != attachments[j].Name {
			return attachments[i].Name < attachments[j].Name
		}
		return attachments[i].Mount < attachments[j].Mount
	})

	props := make(map[string]string, len(dataset.Properties))
	for k, v := range dataset.Properties {
		props[k] = v
	}

	return Volume{
		Name:       volumeName,
		Pool:       poolName,
		Path:       path,
		Profile:    dataset.Profile,
		Mountpoint: dataset.Mountpoint,
		Properties: props,
		Shares:     dataset.Shares,
		Containers: attachments,
		AutoParent: dataset.AutoParent,
	}
}

// indexAttachments folds a volume's attachments into the derived
// container index. Each container appears exactly once, with one mount
// entry per volume it touches.
func indexAttachments(containers map[string]*Container, volume Volume) {
	for _, att := range volume.Containers {
		c, ok := containers[att.Name]
		if !ok {
			c = &Container{Name: att.Name}
			containers[att.Name] = c
		}

		if c.VMID == 0 && att.VMID != 0 {
			c.VMID = att.VMID
		}
		if att.AutoCreate && !c.AutoCreate {
			c.AutoCreate = true
			c.Template = att.Template
			c.Resources = att.Resources
		}

		c.Mounts = append(c.Mounts, Mount{
			Volume:      volume.Path,
			MountPoint:  att.Mount,
			Permissions: att.Permissions,
			ReadOnly:    att.ReadOnly,
		})

		if volume.Profile != "" && !contains(c.Profiles, volume.Profile) {
			c.Profiles = append(c.Profiles, volume.Profile)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
