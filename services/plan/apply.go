// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"context"
	"fmt"

	"github.com/AleutianAI/tidepool/pkg/logging"
	"github.com/AleutianAI/tidepool/services/config"
	"github.com/AleutianAI/tidepool/services/lxc"
)

// VolumeManager is the volume surface apply writes through.
type VolumeManager interface {
	Create(ctx context.Context, volume, mountpoint string, properties map[string]string) error
	SyncProperties(ctx context.Context, volume, mountpoint string, properties map[string]string) error
}

// ContainerManager is the container surface apply writes through.
type ContainerManager interface {
	Create(ctx context.Context, spec lxc.CreateSpec) (int, error)
	AttachMount(ctx context.Context, vmid int, hostPath, mountPoint string, readOnly bool) error
}

// ShareManager is the share surface apply writes through. Exists is
// checked before configuring, so shares that predate tidepool are
// ledgered as adopted rather than created.
type ShareManager interface {
	Exists(ctx context.Context, kind, name, mountpoint string) (bool, error)
	Configure(ctx context.Context, mountpoint string, shares config.Shares) error
}

// Ledger is the managed-state surface apply records into. Every Mark
// call happens only after the corresponding host change committed.
type Ledger interface {
	IsVolumeManaged(path string) bool
	MarkVolumeManaged(path string, created bool) error
	MarkVolumeExternal(path string) error
	MarkContainerManaged(name string, created bool) error
	MarkMountManaged(container, mountPoint, volume string, created bool) error
	MarkShareManaged(kind, name, volume string, created bool) error
}

// Result summarizes a completed or aborted apply.
type Result struct {
	VolumesCreated    int  `json:"volumes_created"`
	VolumesModified   int  `json:"volumes_modified"`
	ContainersCreated int  `json:"containers_created"`
	MountsAttached    int  `json:"mounts_attached"`
	SharesConfigured  int  `json:"shares_configured"`
	Completed         bool `json:"completed"`
}

// Applied returns the total number of committed changes.
func (r *Result) Applied() int {
	return r.VolumesCreated + r.VolumesModified + r.ContainersCreated +
		r.MountsAttached + r.SharesConfigured
}

// Applicator executes a changeset against the live host.
type Applicator struct {
	volumes    VolumeManager
	containers ContainerManager
	shares     ShareManager
	ledger     Ledger
	log        *logging.Logger
}

// NewApplicator wires an applicator to the live managers and ledger.
func NewApplicator(volumes VolumeManager, containers ContainerManager, shares ShareManager, ledger Ledger, log *logging.Logger) *Applicator {
	if log == nil {
		log = logging.Default()
	}
	return &Applicator{
		volumes:    volumes,
		containers: containers,
		shares:     shares,
		ledger:     ledger,
		log:        log,
	}
}

// Apply executes the changeset in dependency order: volumes, then
// container creations, then mounts, then shares.
//
// The first failure aborts the run; the returned Result counts what
// committed before the abort so the caller can decide about rollback.
// The ledger is written after each individual change commits, never
// before, so a crash mid-apply leaves no record claiming ownership of
// a resource that was never made.
func (a *Applicator) Apply(ctx context.Context, cs *ChangeSet) (*Result, error) {
	result := &Result{}

	if err := a.applyVolumes(ctx, cs, result); err != nil {
		return result, err
	}

	// Created containers get their VMIDs here; the mount changes
	// planned against them carry VMID 0 and resolve through this map.
	createdVMIDs := make(map[string]int)
	if err := a.applyContainers(ctx, cs, result, createdVMIDs); err != nil {
		return result, err
	}
	if err := a.applyMounts(ctx, cs, result, createdVMIDs); err != nil {
		return result, err
	}
	if err := a.applyShares(ctx, cs, result); err != nil {
		return result, err
	}

	result.Completed = true
	a.log.Info("apply completed", "changes", result.Applied())
	return result, nil
}

func (a *Applicator) applyVolumes(ctx context.Context, cs *ChangeSet, result *Result) error {
	for _, change := range cs.Volumes {
		props := make(map[string]string, len(change.Properties))
		for prop, pc := range change.Properties {
			if prop != "mountpoint" {
				props[prop] = pc.New
			}
		}

		switch change.Type {
		case ChangeCreate:
			if err := a.volumes.Create(ctx, change.Volume, change.Mountpoint, props); err != nil {
				return fmt.Errorf("creating volume %s: %w", change.Volume, err)
			}
			if err := a.ledger.MarkVolumeManaged(change.Volume, true); err != nil {
				return err
			}
			result.VolumesCreated++

		case ChangeModify:
			if err := a.volumes.SyncProperties(ctx, change.Volume, change.Mountpoint, props); err != nil {
				return fmt.Errorf("modifying volume %s: %w", change.Volume, err)
			}
			// First touch of a pre-existing volume adopts it: tracked
			// as managed, but never as created by us.
			if !a.ledger.IsVolumeManaged(change.Volume) {
				if err := a.ledger.MarkVolumeExternal(change.Volume); err != nil {
					return err
				}
				if err := a.ledger.MarkVolumeManaged(change.Volume, false); err != nil {
					return err
				}
			}
			result.VolumesModified++

		default:
			return fmt.Errorf("unknown volume change type %q", change.Type)
		}
	}
	return nil
}

func (a *Applicator) applyContainers(ctx context.Context, cs *ChangeSet, result *Result, createdVMIDs map[string]int) error {
	for _, change := range cs.Containers {
		if change.Action != ActionCreate {
			continue
		}

		vmid, err := a.containers.Create(ctx, lxc.CreateSpec{
			VMID:      change.VMID,
			Name:      change.Name,
			Template:  change.Template,
			Resources: change.Resources,
			Options:   change.Options,
		})
		if err != nil {
			return fmt.Errorf("creating container %q: %w", change.Name, err)
		}
		if err := a.ledger.MarkContainerManaged(change.Name, true); err != nil {
			return err
		}
		createdVMIDs[change.Name] = vmid
		result.ContainersCreated++
	}
	return nil
}

func (a *Applicator) applyMounts(ctx context.Context, cs *ChangeSet, result *Result, createdVMIDs map[string]int) error {
	for _, change := range cs.Containers {
		if change.Action != ActionMount {
			continue
		}

		vmid := change.VMID
		if vmid == 0 {
			vmid = createdVMIDs[change.Name]
		}
		if vmid == 0 {
			return fmt.Errorf("no VMID resolved for container %q mount %s", change.Name, change.MountPath)
		}

		if err := a.containers.AttachMount(ctx, vmid, change.HostPath, change.MountPath, change.ReadOnly); err != nil {
			return fmt.Errorf("mounting %s into container %q: %w", change.MountPath, change.Name, err)
		}
		if err := a.ledger.MarkMountManaged(change.Name, change.MountPath, change.Volume, true); err != nil {
			return err
		}
		result.MountsAttached++
	}
	return nil
}

func (a *Applicator) applyShares(ctx context.Context, cs *ChangeSet, result *Result) error {
	for _, change := range cs.Shares {
		existed, err := a.shares.Exists(ctx, change.Kind, change.Name, change.Mountpoint)
		if err != nil {
			return fmt.Errorf("checking %s share for %s: %w", change.Kind, change.Volume, err)
		}
		if err := a.shares.Configure(ctx, change.Mountpoint, change.Shares); err != nil {
			return fmt.Errorf("configuring %s share for %s: %w", change.Kind, change.Volume, err)
		}
		if err := a.ledger.MarkShareManaged(change.Kind, change.Name, change.Volume, !existed); err != nil {
			return err
		}
		result.SharesConfigured++
	}
	return nil
}
