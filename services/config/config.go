// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the tidepool configuration file.
//
// The configuration declares the desired state of one host: ZFS pools
// with their volumes (datasets), the containers that mount them, and
// the network shares exported from them. Loading normalizes every
// shorthand form — in particular the compact container string syntax —
// so that downstream packages only ever see one canonical shape.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Document is the root of a parsed configuration file.
type Document struct {
	Version  int             `yaml:"version"`
	Pools    map[string]Pool `yaml:"pools" validate:"required,min=1,dive"`
	Settings Settings        `yaml:"settings"`
}

// Settings holds host-wide options.
type Settings struct {
	// StateDir overrides the default state directory.
	StateDir string `yaml:"state_dir"`

	// BackupFiles lists extra config files to back up into a
	// checkpoint before an apply.
	BackupFiles []string `yaml:"backup_files"`
}

// Pool declares the volumes under one ZFS pool.
type Pool struct {
	Datasets map[string]Dataset `yaml:"datasets" validate:"required,min=1,dive"`
}

// Dataset declares one volume: its ZFS properties, mountpoint, the
// containers that mount it, and its share exports.
type Dataset struct {
	Profile    string            `yaml:"profile"`
	Mountpoint string            `yaml:"mountpoint"`
	Properties map[string]string `yaml:"zfs"`
	Containers []ContainerSpec   `yaml:"containers" validate:"dive"`
	Shares     Shares            `yaml:"shares"`

	// AutoParent marks volumes synthesized by the loader to hold
	// nested declarations; carried through for audit only.
	AutoParent bool `yaml:"_auto_parent"`
}

// ContainerSpec is the canonical form of a container attachment.
//
// In YAML it may be written either as a mapping or as the compact
// string "name:/mount:ro"; UnmarshalYAML folds both into this shape.
type ContainerSpec struct {
	VMID        int               `yaml:"vmid"`
	Name        string            `yaml:"name" validate:"required"`
	Mount       string            `yaml:"mount"`
	Permissions string            `yaml:"permissions"`
	ReadOnly    bool              `yaml:"readonly"`
	AutoCreate  bool              `yaml:"auto_create"`
	Template    string            `yaml:"template"`
	Resources   Resources         `yaml:"resources"`
	Options     map[string]string `yaml:"options"`
}

// Resources are the requested limits for an auto-created container.
type Resources struct {
	// Memory accepts a bare integer (megabytes) or a suffixed
	// string such as "2G" or "512M".
	Memory MemoryValue `yaml:"memory"`
	Swap   MemoryValue `yaml:"swap"`
	Cores  int         `yaml:"cores"`
}

// MemoryValue preserves the raw scalar text of a memory request so
// that both `memory: 2048` and `memory: "2G"` parse.
type MemoryValue string

// UnmarshalYAML captures the scalar text verbatim.
func (m *MemoryValue) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("memory value must be a scalar, got %v", value.Kind)
	}
	*m = MemoryValue(value.Value)
	return nil
}

// IsZero reports whether no value was declared.
func (m MemoryValue) IsZero() bool {
	return m == ""
}

// Shares declares network exports for a volume.
type Shares struct {
	SMB *SMBShare `yaml:"smb"`
	NFS *NFSShare `yaml:"nfs"`
}

// Empty reports whether no share is declared.
func (s Shares) Empty() bool {
	return s.SMB == nil && s.NFS == nil
}

// SMBShare declares a Samba export.
type SMBShare struct {
	Name     string `yaml:"name"`
	Comment  string `yaml:"comment"`
	Guest    bool   `yaml:"guest"`
	ReadOnly bool   `yaml:"readonly"`
}

// NFSShare declares an NFS export.
type NFSShare struct {
	Network string   `yaml:"network"`
	Options []string `yaml:"options"`
}

// specAlias avoids UnmarshalYAML recursion when decoding mappings.
type specAlias ContainerSpec

// UnmarshalYAML accepts both the mapping form and the compact
// "name:/mount:ro" string form of a container attachment.
func (c *ContainerSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		spec, err := parseContainerShorthand(value.Value)
		if err != nil {
			return err
		}
		*c = spec
		return nil
	}

	var alias specAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*c = ContainerSpec(alias)
	return nil
}

// parseContainerShorthand parses "name", "name:/mount" and
// "name:/mount:ro". The read-only flag accepts ro/readonly/true/1.
func parseContainerShorthand(raw string) (ContainerSpec, error) {
	parts := strings.Split(raw, ":")
	if parts[0] == "" {
		return ContainerSpec{}, fmt.Errorf("container shorthand %q has no name", raw)
	}

	spec := ContainerSpec{Name: parts[0]}
	if len(parts) > 1 && parts[1] != "" {
		spec.Mount = parts[1]
	}
	if len(parts) > 2 {
		switch strings.ToLower(strings.TrimSpace(parts[2])) {
		case "ro", "readonly", "true", "1":
			spec.ReadOnly = true
		}
	}
	return spec, nil
}

// Load reads, parses, validates and normalizes a configuration file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates configuration bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validator.New().Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	doc.normalize()
	return &doc, nil
}

// normalize fills derived defaults: every container attachment gets a
// mount path (defaulting to the volume's own path under /) and SMB
// shares default their name to the volume name.
func (d *Document) normalize() {
	for poolName, pool := range d.Pools {
		for volumeName, dataset := range pool.Datasets {
			for i := range dataset.Containers {
				if dataset.Containers[i].Mount == "" {
					dataset.Containers[i].Mount = "/" + volumeName
				}
			}
			if dataset.Shares.SMB != nil && dataset.Shares.SMB.Name == "" {
				dataset.Shares.SMB.Name = shareNameForVolume(volumeName)
			}
			pool.Datasets[volumeName] = dataset
		}
		d.Pools[poolName] = pool
	}
}

// shareNameForVolume flattens a nested volume name into a share name.
func shareNameForVolume(volumeName string) string {
	return strings.ReplaceAll(volumeName, "/", "_")
}
