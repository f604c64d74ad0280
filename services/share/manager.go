// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package share exports volumes over SMB and NFS.
//
// SMB uses Samba usershares (net usershare), which are re-addable
// without a daemon reload; NFS uses exportfs for the same reason.
// Both are idempotent at the tool level, so Configure just re-applies
// the desired export.
package share

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/tidepool/pkg/hostrun"
	"github.com/AleutianAI/tidepool/pkg/logging"
	"github.com/AleutianAI/tidepool/services/config"
	"github.com/AleutianAI/tidepool/services/store"
)

// defaultNFSOptions are applied when an NFS share declares none.
var defaultNFSOptions = []string{"rw", "sync", "no_subtree_check"}

// Manager configures network shares via host tooling.
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

// Exists reports whether the share is already present on the host,
// independent of what the ledger tracks. SMB shares are identified by
// usershare name, NFS exports by the exported directory.
func (m *Manager) Exists(ctx context.Context, kind, name, mountpoint string) (bool, error) {
	switch kind {
	case store.ShareSMB:
		out, err := m.run.Run(ctx, "net", "usershare", "list")
		if err != nil {
			return false, fmt.Errorf("listing SMB usershares: %w", err)
		}
		for _, line := range strings.Split(out, "\n") {
			if strings.EqualFold(strings.TrimSpace(line), name) {
				return true, nil
			}
		}
		return false, nil

	case store.ShareNFS:
		out, err := m.run.Run(ctx, "exportfs")
		if err != nil {
			return false, fmt.Errorf("listing NFS exports: %w", err)
		}
		// exportfs prints the directory at the start of the line; the
		// client spec follows, wrapped onto an indented line for long
		// paths.
		for _, line := range strings.Split(out, "\n") {
			if line == "" || line[0] == ' ' || line[0] == '\t' {
				continue
			}
			if fields := strings.Fields(line); len(fields) > 0 && fields[0] == mountpoint {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("invalid share kind %q", kind)
}

// Configure applies the declared shares for a volume mounted at
// mountpoint. Declaring no shares is a no-op.
func (m *Manager) Configure(ctx context.Context, mountpoint string, shares config.Shares) error {
	if shares.Empty() {
		return nil
	}
	if mountpoint == "" {
		return fmt.Errorf("cannot share a volume without a mountpoint")
	}

	if shares.SMB != nil {
		if err := m.configureSMB(ctx, mountpoint, shares.SMB); err != nil {
			return err
		}
	}
	if shares.NFS != nil {
		if err := m.configureNFS(ctx, mountpoint, shares.NFS); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) configureSMB(ctx context.Context, mountpoint string, share *config.SMBShare) error {
	comment := share.Comment
	if comment == "" {
		comment = "managed by tidepool"
	}

	acl := "Everyone:F"
	if share.ReadOnly {
		acl = "Everyone:R"
	}
	guest := "guest_ok=n"
	if share.Guest {
		guest = "guest_ok=y"
	}

	// `net usershare add` replaces an existing share of the same
	// name, so re-applying is safe.
	if _, err := m.run.Run(ctx, "net", "usershare", "add",
		share.Name, mountpoint, comment, acl, guest); err != nil {
		return fmt.Errorf("adding SMB share %q: %w", share.Name, err)
	}

	m.log.Info("SMB share configured", "name", share.Name,
		"path", mountpoint, "guest", share.Guest, "readonly", share.ReadOnly)
	return nil
}

func (m *Manager) configureNFS(ctx context.Context, mountpoint string, share *config.NFSShare) error {
	network := share.Network
	if network == "" {
		network = "*"
	}
	options := share.Options
	if len(options) == 0 {
		options = defaultNFSOptions
	}

	target := fmt.Sprintf("%s:%s", network, mountpoint)
	if _, err := m.run.Run(ctx, "exportfs",
		"-o", strings.Join(options, ","), target); err != nil {
		return fmt.Errorf("exporting %s over NFS: %w", target, err)
	}

	m.log.Info("NFS export configured", "path", mountpoint,
		"network", network, "options", strings.Join(options, ","))
	return nil
}
