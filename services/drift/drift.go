// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package drift compares desired state against the last recorded
// reality snapshot to flag edits made outside tidepool.
//
// Severity is a fixed two-tier policy, not configuration: a resource
// that is desired but absent from reality is always dangerous (its
// absence implies a prior deletion, high blast radius), while a
// differing property or missing mount is auto-merge (metadata that
// can be re-applied without data loss).
package drift

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/tidepool/services/reality"
	"github.com/AleutianAI/tidepool/services/state"
)

// Severity classifies one drift finding.
type Severity string

const (
	// SeverityInfo marks findings with no safety impact.
	SeverityInfo Severity = "info"

	// SeverityAutoMerge marks drift that is safe to reconcile
	// automatically (property and mount metadata).
	SeverityAutoMerge Severity = "auto-merge"

	// SeverityDangerous marks drift that implies destruction, such
	// as a desired resource missing from reality.
	SeverityDangerous Severity = "dangerous"
)

// Item is a single drift finding.
type Item struct {
	ResourceType string   `json:"resource_type"`
	Identifier   string   `json:"identifier"`
	Field        string   `json:"field"`
	Desired      string   `json:"desired"`
	Reality      string   `json:"reality"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
}

// Report is an ordered list of drift findings. Clean means empty.
type Report struct {
	Items []Item `json:"items"`
}

// Add appends a finding.
func (r *Report) Add(item Item) {
	r.Items = append(r.Items, item)
}

// IsClean reports whether no drift was found.
func (r *Report) IsClean() bool {
	return len(r.Items) == 0
}

// Summary counts findings per severity.
func (r *Report) Summary() map[Severity]int {
	counts := make(map[Severity]int)
	for _, item := range r.Items {
		counts[item.Severity]++
	}
	return counts
}

// Detector compares a desired-state model with a reality snapshot.
type Detector struct {
	desired *state.Model
	reality *reality.Snapshot
}

// NewDetector builds a detector over the given desired and reality
// documents.
func NewDetector(desired *state.Model, snap *reality.Snapshot) *Detector {
	return &Detector{desired: desired, reality: snap}
}

// Run produces the drift report. Findings are emitted in volume-path
// then container-name order so repeated runs over the same inputs
// yield identical reports.
func (d *Detector) Run() *Report {
	report := &Report{}
	d.compareVolumes(report)
	d.compareContainers(report)
	return report
}

func (d *Detector) compareVolumes(report *Report) {
	for _, path := range sortedVolumePaths(d.desired) {
		volume := d.desired.Volumes[path]

		observed := d.reality.Volume(volume.Pool, path)
		if observed == nil {
			report.Add(Item{
				ResourceType: "volume",
				Identifier:   path,
				Field:        "exists",
				Desired:      "true",
				Reality:      "false",
				Severity:     SeverityDangerous,
				Message:      fmt.Sprintf("volume %s missing on host", path),
			})
			continue
		}

		d.compareVolumeProperties(report, volume, observed)
	}
}

func (d *Detector) compareVolumeProperties(report *Report, volume state.Volume, observed map[string]string) {
	if volume.Mountpoint != "" {
		if observedMount := observed["mountpoint"]; observedMount != "" &&
			normalize(volume.Mountpoint) != normalize(observedMount) {
			report.Add(Item{
				ResourceType: "volume",
				Identifier:   volume.Path,
				Field:        "mountpoint",
				Desired:      volume.Mountpoint,
				Reality:      observedMount,
				Severity:     SeverityAutoMerge,
				Message:      fmt.Sprintf("mountpoint drift on %s", volume.Path),
			})
		}
	}

	for _, prop := range sortedKeys(volume.Properties) {
		desired := volume.Properties[prop]
		observedValue, ok := observed[prop]
		if !ok || observedValue == "" {
			// Property not reported by the snapshot; nothing to compare.
			continue
		}
		if normalize(desired) != normalize(observedValue) {
			report.Add(Item{
				ResourceType: "volume",
				Identifier:   volume.Path,
				Field:        "zfs." + prop,
				Desired:      desired,
				Reality:      observedValue,
				Severity:     SeverityAutoMerge,
				Message:      fmt.Sprintf("property %q drift on %s", prop, volume.Path),
			})
		}
	}
}

func (d *Detector) compareContainers(report *Report) {
	for _, name := range sortedContainerNames(d.desired) {
		container := d.desired.Containers[name]

		observed := d.findContainer(name, container.VMID)
		if observed == nil {
			report.Add(Item{
				ResourceType: "container",
				Identifier:   name,
				Field:        "exists",
				Desired:      "true",
				Reality:      "false",
				Severity:     SeverityDangerous,
				Message:      fmt.Sprintf("container %q missing on host", name),
			})
			continue
		}

		observedMounts := make(map[string]bool, len(observed.Mounts))
		for _, m := range observed.Mounts {
			if m.MountPoint != "" {
				observedMounts[m.MountPoint] = true
			}
		}

		for _, mount := range container.Mounts {
			if mount.MountPoint == "" {
				continue
			}
			if !observedMounts[mount.MountPoint] {
				report.Add(Item{
					ResourceType: "container",
					Identifier:   name,
					Field:        "mounts",
					Desired:      mount.MountPoint,
					Reality:      joinMountPoints(observed.Mounts),
					Severity:     SeverityAutoMerge,
					Message:      fmt.Sprintf("container %q missing mount %s", name, mount.MountPoint),
				})
			}
		}
	}
}

// findContainer resolves a desired container in the snapshot: by VMID
// when the config pins one, falling back to hostname. Matches the
// planner, so a container renamed on the host but keeping its pinned
// VMID is not reported as missing.
func (d *Detector) findContainer(name string, vmid int) *reality.Container {
	if vmid != 0 {
		if observed := d.reality.ContainerByVMID(vmid); observed != nil {
			return observed
		}
	}
	return d.reality.ContainerByName(name)
}

// normalize prepares values for string comparison.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func joinMountPoints(mounts []reality.Mount) string {
	points := make([]string, 0, len(mounts))
	for _, m := range mounts {
		if m.MountPoint != "" {
			points = append(points, m.MountPoint)
		}
	}
	sort.Strings(points)
	return strings.Join(points, ",")
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

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
