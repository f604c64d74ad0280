// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lxc manages OS containers through the Proxmox pct(1) CLI.
package lxc

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/tidepool/pkg/hostrun"
	"github.com/AleutianAI/tidepool/pkg/logging"
	"github.com/AleutianAI/tidepool/services/capacity"
	"github.com/AleutianAI/tidepool/services/config"
	"github.com/AleutianAI/tidepool/services/reality"
)

// firstVMID is where VMID allocation starts when the config does not
// pin one.
const firstVMID = 100

// maxMounts is the number of mpN slots pct supports.
const maxMounts = 256

// CreateSpec describes a container to auto-create.
type CreateSpec struct {
	VMID      int
	Name      string
	Template  string
	Resources config.Resources
	Options   map[string]string
}

// Manager wraps pct command execution.
type Manager struct {
	run hostrun.Runner
	log *logging.Logger
}

// NewManager returns a manager using the given runner.
func NewManager(run hostrun.Runner, log *logging.Logger) *Manager {
	if run == nil {
		run = hostrun.ExecRunner{}
	}
	if log == nil {
		log = logging.Default()
	}
	return &Manager{run: run, log: log}
}

// List returns every container on the host.
func (m *Manager) List(ctx context.Context) ([]reality.ContainerInfo, error) {
	out, err := m.run.Run(ctx, "pct", "list")
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	return parseList(out), nil
}

// parseList parses `pct list` output. The first line is a header; data
// lines are "VMID Status [Lock] Name" with the name always last.
func parseList(out string) []reality.ContainerInfo {
	var infos []reality.ContainerInfo
	for i, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || i == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		vmid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		infos = append(infos, reality.ContainerInfo{
			VMID:   vmid,
			Status: fields[1],
			Name:   fields[len(fields)-1],
		})
	}
	return infos
}

// FindByVMID returns the container with the given VMID, or nil.
func (m *Manager) FindByVMID(ctx context.Context, vmid int) (*reality.ContainerInfo, error) {
	infos, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].VMID == vmid {
			return &infos[i], nil
		}
	}
	return nil, nil
}

// FindByName returns the container with the given hostname, or nil.
func (m *Manager) FindByName(ctx context.Context, name string) (*reality.ContainerInfo, error) {
	infos, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].Name == name {
			return &infos[i], nil
		}
	}
	return nil, nil
}

// Mounts returns the container's mount entries keyed by their mpN slot.
func (m *Manager) Mounts(ctx context.Context, vmid int) (map[string]reality.MountInfo, error) {
	cfg, err := m.configOf(ctx, vmid)
	if err != nil {
		return nil, err
	}

	mounts := make(map[string]reality.MountInfo)
	for key, value := range cfg {
		if !strings.HasPrefix(key, "mp") {
			continue
		}
		if _, err := strconv.Atoi(key[2:]); err != nil {
			continue
		}
		mounts[key] = parseMountValue(value)
	}
	return mounts, nil
}

// parseMountValue parses an mpN value such as
// "/tank/media,mp=/media,ro=1": the leading field is the backing
// volume or host path, the rest are comma-separated options.
func parseMountValue(value string) reality.MountInfo {
	parts := strings.Split(value, ",")
	info := reality.MountInfo{Volume: parts[0]}
	for _, part := range parts[1:] {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "mp":
			info.MountPoint = v
		case "ro":
			info.ReadOnly = v == "1"
		}
	}
	return info
}

// Resources returns the container's configured limits in megabytes
// and cores.
func (m *Manager) Resources(ctx context.Context, vmid int) (map[string]int, error) {
	cfg, err := m.configOf(ctx, vmid)
	if err != nil {
		return nil, err
	}

	resources := make(map[string]int)
	for _, key := range []string{"memory", "swap", "cores"} {
		if raw, ok := cfg[key]; ok {
			if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
				resources[key] = n
			}
		}
	}
	return resources, nil
}

// configOf parses `pct config <vmid>` into a key/value map.
func (m *Manager) configOf(ctx context.Context, vmid int) (map[string]string, error) {
	out, err := m.run.Run(ctx, "pct", "config", strconv.Itoa(vmid))
	if err != nil {
		return nil, fmt.Errorf("reading config of container %d: %w", vmid, err)
	}

	cfg := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		cfg[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return cfg, nil
}

// Create builds a new container from the spec and returns its VMID.
//
// A pinned VMID is used as-is; otherwise the next free VMID at or
// above 100 is allocated from the live container list.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (int, error) {
	if spec.Template == "" {
		return 0, fmt.Errorf("container %q has auto_create but no template", spec.Name)
	}

	vmid := spec.VMID
	if vmid == 0 {
		next, err := m.nextFreeVMID(ctx)
		if err != nil {
			return 0, err
		}
		vmid = next
	}

	memory := capacity.ParseMemoryMB(string(spec.Resources.Memory), capacity.DefaultMemoryMB)
	swap := capacity.ParseMemoryMB(string(spec.Resources.Swap), 0)
	cores := spec.Resources.Cores
	if cores <= 0 {
		cores = 1
	}

	args := []string{
		"create", strconv.Itoa(vmid), spec.Template,
		"--hostname", spec.Name,
		"--memory", strconv.Itoa(memory),
		"--swap", strconv.Itoa(swap),
		"--cores", strconv.Itoa(cores),
		"--unprivileged", "1",
	}
	for _, key := range sortedKeys(spec.Options) {
		args = append(args, "--"+key, spec.Options[key])
	}

	if _, err := m.run.Run(ctx, "pct", args...); err != nil {
		return 0, fmt.Errorf("creating container %q: %w", spec.Name, err)
	}

	m.log.Info("container created", "name", spec.Name, "vmid", vmid,
		"template", spec.Template, "memory_mb", memory, "cores", cores)
	return vmid, nil
}

func (m *Manager) nextFreeVMID(ctx context.Context) (int, error) {
	infos, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	used := make(map[int]bool, len(infos))
	for _, info := range infos {
		used[info.VMID] = true
	}
	for vmid := firstVMID; ; vmid++ {
		if !used[vmid] {
			return vmid, nil
		}
	}
}

// AttachMount binds hostPath into the container at mountPoint using
// the first free mpN slot. Attaching an already-present mount is a
// no-op.
func (m *Manager) AttachMount(ctx context.Context, vmid int, hostPath, mountPoint string, readOnly bool) error {
	mounts, err := m.Mounts(ctx, vmid)
	if err != nil {
		return err
	}

	for _, info := range mounts {
		if info.MountPoint == mountPoint {
			m.log.Debug("mount already present", "vmid", vmid, "mount_point", mountPoint)
			return nil
		}
	}

	slot := -1
	for i := 0; i < maxMounts; i++ {
		if _, taken := mounts[fmt.Sprintf("mp%d", i)]; !taken {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("container %d has no free mount slots", vmid)
	}

	value := fmt.Sprintf("%s,mp=%s", hostPath, mountPoint)
	if readOnly {
		value += ",ro=1"
	}

	if _, err := m.run.Run(ctx, "pct", "set", strconv.Itoa(vmid),
		fmt.Sprintf("-mp%d", slot), value); err != nil {
		return fmt.Errorf("attaching mount to container %d: %w", vmid, err)
	}

	m.log.Info("mount attached", "vmid", vmid,
		"host_path", hostPath, "mount_point", mountPoint, "readonly", readOnly)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
