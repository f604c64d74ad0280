// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan computes and applies the changeset between desired
// state and the live host.
//
// Planning interrogates the live managers directly rather than any
// recorded snapshot: a plan must reflect the host as it is this
// instant, while drift detection deliberately compares against the
// last recorded capture. The two disagree exactly when someone
// changed the host since the last scan, which is the point.
package plan

import (
	"context"
	"fmt"
	"sort"

	"github.com/AleutianAI/tidepool/pkg/logging"
	"github.com/AleutianAI/tidepool/services/config"
	"github.com/AleutianAI/tidepool/services/reality"
	"github.com/AleutianAI/tidepool/services/state"
	"github.com/AleutianAI/tidepool/services/store"
)

// ChangeType classifies a volume change.
type ChangeType string

const (
	// ChangeCreate means the volume does not exist yet.
	ChangeCreate ChangeType = "create"

	// ChangeModify means the volume exists with differing properties.
	ChangeModify ChangeType = "modify"
)

// ContainerAction classifies a container change.
type ContainerAction string

const (
	// ActionCreate builds a new container.
	ActionCreate ContainerAction = "create"

	// ActionMount attaches a missing mount to an existing container.
	ActionMount ContainerAction = "mount"
)

// PropertyChange is one property transition on a volume.
type PropertyChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// VolumeChange is one planned volume operation.
type VolumeChange struct {
	Volume     string                    `json:"volume"`
	Type       ChangeType                `json:"type"`
	Mountpoint string                    `json:"mountpoint,omitempty"`
	Properties map[string]PropertyChange `json:"properties,omitempty"`
}

// ContainerChange is one planned container operation. For ActionMount
// the Volume/HostPath/MountPath triple describes the single mount to
// attach; for ActionCreate the mounts are planned as separate
// ActionMount entries that run after creation.
type ContainerChange struct {
	Name      string            `json:"name"`
	VMID      int               `json:"vmid,omitempty"`
	Action    ContainerAction   `json:"action"`
	Template  string            `json:"template,omitempty"`
	Resources config.Resources  `json:"resources,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
	Volume    string            `json:"volume,omitempty"`
	HostPath  string            `json:"host_path,omitempty"`
	MountPath string            `json:"mount_path,omitempty"`
	ReadOnly  bool              `json:"readonly,omitempty"`
}

// ShareChange is one planned share export.
type ShareChange struct {
	Volume     string        `json:"volume"`
	Mountpoint string        `json:"mountpoint"`
	Kind       string        `json:"kind"`
	Name       string        `json:"name"`
	Shares     config.Shares `json:"-"`
}

// ChangeSet is the ordered result of planning.
type ChangeSet struct {
	Volumes    []VolumeChange    `json:"volumes"`
	Containers []ContainerChange `json:"containers"`
	Shares     []ShareChange     `json:"shares"`

	// Notes carry advisories that are not changes, such as a desired
	// container that is absent but not flagged for auto-creation.
	Notes []string `json:"notes,omitempty"`
}

// Empty reports whether nothing needs to change.
func (cs *ChangeSet) Empty() bool {
	return cs.Count() == 0
}

// Count returns the number of planned changes. Notes do not count.
func (cs *ChangeSet) Count() int {
	return len(cs.Volumes) + len(cs.Containers) + len(cs.Shares)
}

// AffectedVolumes returns the sorted set of volume paths the changeset
// touches, for checkpointing. Volumes the changeset itself creates are
// excluded throughout: they do not exist yet, so snapshotting them
// would fail even when a mount or share also references them.
func (cs *ChangeSet) AffectedVolumes() []string {
	creating := make(map[string]bool)
	for _, change := range cs.Volumes {
		if change.Type == ChangeCreate {
			creating[change.Volume] = true
		}
	}

	seen := make(map[string]bool)
	for _, change := range cs.Volumes {
		if !creating[change.Volume] {
			seen[change.Volume] = true
		}
	}
	for _, change := range cs.Containers {
		if change.Volume != "" && !creating[change.Volume] {
			seen[change.Volume] = true
		}
	}
	for _, change := range cs.Shares {
		if !creating[change.Volume] {
			seen[change.Volume] = true
		}
	}

	volumes := make([]string, 0, len(seen))
	for volume := range seen {
		volumes = append(volumes, volume)
	}
	sort.Strings(volumes)
	return volumes
}

// VolumeInspector is the volume-manager surface planning reads.
type VolumeInspector interface {
	Exists(ctx context.Context, volume string) (bool, error)
	GetProperties(ctx context.Context, volume string) (map[string]string, error)
}

// ContainerInspector is the container-manager surface planning reads.
type ContainerInspector interface {
	FindByVMID(ctx context.Context, vmid int) (*reality.ContainerInfo, error)
	FindByName(ctx context.Context, name string) (*reality.ContainerInfo, error)
	Mounts(ctx context.Context, vmid int) (map[string]reality.MountInfo, error)
}

// ShareLedger answers whether a share is already tracked as managed.
type ShareLedger interface {
	IsShareManaged(kind, name string) bool
}

// Planner computes changesets against the live host.
type Planner struct {
	volumes    VolumeInspector
	containers ContainerInspector
	shares     ShareLedger
	log        *logging.Logger
}

// NewPlanner wires a planner to the live managers and the ledger.
func NewPlanner(volumes VolumeInspector, containers ContainerInspector, shares ShareLedger, log *logging.Logger) *Planner {
	if log == nil {
		log = logging.Default()
	}
	return &Planner{volumes: volumes, containers: containers, shares: shares, log: log}
}

// Plan computes the changeset that would bring the host to the
// desired model. Planning mutates nothing.
func (p *Planner) Plan(ctx context.Context, model *state.Model) (*ChangeSet, error) {
	cs := &ChangeSet{}

	if err := p.planVolumes(ctx, model, cs); err != nil {
		return nil, err
	}
	if err := p.planContainers(ctx, model, cs); err != nil {
		return nil, err
	}
	p.planShares(model, cs)

	p.log.Debug("plan computed", "volumes", len(cs.Volumes),
		"containers", len(cs.Containers), "shares", len(cs.Shares))
	return cs, nil
}

func (p *Planner) planVolumes(ctx context.Context, model *state.Model, cs *ChangeSet) error {
	for _, path := range sortedVolumePaths(model) {
		volume := model.Volumes[path]

		exists, err := p.volumes.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("planning volume %s: %w", path, err)
		}

		if !exists {
			props := make(map[string]PropertyChange, len(volume.Properties))
			for prop, value := range volume.Properties {
				props[prop] = PropertyChange{New: value}
			}
			cs.Volumes = append(cs.Volumes, VolumeChange{
				Volume:     path,
				Type:       ChangeCreate,
				Mountpoint: volume.Mountpoint,
				Properties: props,
			})
			continue
		}

		live, err := p.volumes.GetProperties(ctx, path)
		if err != nil {
			return fmt.Errorf("planning volume %s: %w", path, err)
		}

		diff := diffProperties(volume, live)
		if len(diff) > 0 {
			cs.Volumes = append(cs.Volumes, VolumeChange{
				Volume:     path,
				Type:       ChangeModify,
				Mountpoint: volume.Mountpoint,
				Properties: diff,
			})
		}
	}
	return nil
}

// diffProperties compares the desired properties (plus mountpoint)
// against live values. Only desired keys are considered: properties
// the config does not declare are not tidepool's business.
func diffProperties(volume state.Volume, live map[string]string) map[string]PropertyChange {
	diff := make(map[string]PropertyChange)

	for prop, desired := range volume.Properties {
		if observed, ok := live[prop]; ok && observed != desired {
			diff[prop] = PropertyChange{Old: observed, New: desired}
		}
	}
	if volume.Mountpoint != "" {
		if observed := live["mountpoint"]; observed != "" && observed != volume.Mountpoint {
			diff["mountpoint"] = PropertyChange{Old: observed, New: volume.Mountpoint}
		}
	}

	if len(diff) == 0 {
		return nil
	}
	return diff
}

func (p *Planner) planContainers(ctx context.Context, model *state.Model, cs *ChangeSet) error {
	for _, name := range sortedContainerNames(model) {
		container := model.Containers[name]

		info, err := p.findContainer(ctx, name, container.VMID)
		if err != nil {
			return fmt.Errorf("planning container %q: %w", name, err)
		}

		if info == nil {
			if !container.AutoCreate {
				cs.Notes = append(cs.Notes, fmt.Sprintf(
					"container %q does not exist and is not flagged for auto-creation; its mounts will be skipped", name))
				continue
			}
			cs.Containers = append(cs.Containers, ContainerChange{
				Name:      name,
				VMID:      container.VMID,
				Action:    ActionCreate,
				Template:  container.Template,
				Resources: container.Resources,
			})
			for _, mount := range container.Mounts {
				cs.Containers = append(cs.Containers, mountChange(model, name, 0, mount))
			}
			continue
		}

		live, err := p.containers.Mounts(ctx, info.VMID)
		if err != nil {
			return fmt.Errorf("planning container %q: %w", name, err)
		}

		mounted := make(map[string]bool, len(live))
		for _, m := range live {
			mounted[m.MountPoint] = true
		}
		for _, mount := range container.Mounts {
			if !mounted[mount.MountPoint] {
				cs.Containers = append(cs.Containers, mountChange(model, name, info.VMID, mount))
			}
		}
	}
	return nil
}

// findContainer resolves a desired container on the host: by VMID when
// the config pins one, falling back to hostname. A pinned VMID wins
// even when the container was renamed on the host, since the VMID is
// the identity pct enforces.
func (p *Planner) findContainer(ctx context.Context, name string, vmid int) (*reality.ContainerInfo, error) {
	if vmid != 0 {
		info, err := p.containers.FindByVMID(ctx, vmid)
		if err != nil || info != nil {
			return info, err
		}
	}
	return p.containers.FindByName(ctx, name)
}

// mountChange builds an ActionMount entry. The host path is the
// volume's mountpoint when set, otherwise the ZFS default of the
// dataset path under /.
func mountChange(model *state.Model, name string, vmid int, mount state.Mount) ContainerChange {
	hostPath := "/" + mount.Volume
	if volume, ok := model.Volumes[mount.Volume]; ok && volume.Mountpoint != "" {
		hostPath = volume.Mountpoint
	}
	return ContainerChange{
		Name:      name,
		VMID:      vmid,
		Action:    ActionMount,
		Volume:    mount.Volume,
		HostPath:  hostPath,
		MountPath: mount.MountPoint,
		ReadOnly:  mount.ReadOnly,
	}
}

// planShares emits one change per declared share not yet tracked in
// the ledger. Shares are re-addable idempotently, so the ledger is
// the cheaper source of truth than probing samba and exportfs.
func (p *Planner) planShares(model *state.Model, cs *ChangeSet) {
	for _, path := range sortedVolumePaths(model) {
		volume := model.Volumes[path]
		if volume.Shares.Empty() {
			continue
		}

		mountpoint := volume.Mountpoint
		if mountpoint == "" {
			mountpoint = "/" + path
		}

		if smb := volume.Shares.SMB; smb != nil && !p.shares.IsShareManaged(store.ShareSMB, smb.Name) {
			cs.Shares = append(cs.Shares, ShareChange{
				Volume:     path,
				Mountpoint: mountpoint,
				Kind:       store.ShareSMB,
				Name:       smb.Name,
				Shares:     config.Shares{SMB: smb},
			})
		}
		if nfs := volume.Shares.NFS; nfs != nil && !p.shares.IsShareManaged(store.ShareNFS, path) {
			cs.Shares = append(cs.Shares, ShareChange{
				Volume:     path,
				Mountpoint: mountpoint,
				Kind:       store.ShareNFS,
				Name:       path,
				Shares:     config.Shares{NFS: nfs},
			})
		}
	}
}

func sortedVolumePaths(model *state.Model) []string {
	paths := make([]string, 0, len(model.Volumes))
	for path := range model.Volumes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func sortedContainerNames(model *state.Model) []string {
	names := make([]string, 0, len(model.Containers))
	for name := range model.Containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
