// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/tidepool/pkg/logging"
	"github.com/AleutianAI/tidepool/services/config"
	"github.com/AleutianAI/tidepool/services/lock"
	"github.com/AleutianAI/tidepool/services/lxc"
	"github.com/AleutianAI/tidepool/services/share"
	"github.com/AleutianAI/tidepool/services/state"
	"github.com/AleutianAI/tidepool/services/store"
	"github.com/AleutianAI/tidepool/services/zfs"
)

// defaultStateDir holds the ledger, recorded snapshots and
// checkpoints unless the config overrides it.
const defaultStateDir = "/var/lib/tidepool"

const keepSnapshots = 10

var log = logging.Default()

func initLogging() {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	log = logging.New(logging.Config{Level: level, Service: "tidepool"})
}

// runtimeEnv bundles everything a command needs once the config is
// loaded.
type runtimeEnv struct {
	cfg      *config.Document
	model    *state.Model
	store    *store.Store
	stateDir string
	zfs      *zfs.Manager
	lxc      *lxc.Manager
	shares   *share.Manager
}

// loadRuntime loads the config, builds the desired-state model, opens
// the ledger and wires the host managers.
func loadRuntime() (*runtimeEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	model, err := state.Build(cfg, configPath)
	if err != nil {
		return nil, err
	}

	dir := stateDir
	if dir == "" {
		dir = cfg.Settings.StateDir
	}
	if dir == "" {
		dir = defaultStateDir
	}

	st, err := store.Open(store.Options{
		StateFile:     filepath.Join(dir, "state.json"),
		SnapshotDir:   filepath.Join(dir, "reality"),
		KeepSnapshots: keepSnapshots,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	return &runtimeEnv{
		cfg:      cfg,
		model:    model,
		store:    st,
		stateDir: dir,
		zfs:      zfs.NewManager(nil, log),
		lxc:      lxc.NewManager(nil, log),
		shares:   share.NewManager(nil, log),
	}, nil
}

// poolNames returns the pools declared in the model.
func (r *runtimeEnv) poolNames() []string {
	names := make([]string, 0, len(r.model.Pools))
	for _, pool := range r.model.Pools {
		names = append(names, pool.Name)
	}
	return names
}

// checkpointDir is where checkpoint records and config backups live.
func (r *runtimeEnv) checkpointDir() string {
	return filepath.Join(r.stateDir, "checkpoints")
}

// lockPath resolves the apply lock location.
func lockPath() string {
	if lockFile != "" {
		return lockFile
	}
	return lock.DefaultPath
}

// useColor reports whether styled output should be emitted.
func useColor() bool {
	return !noColor && isatty.IsTerminal(os.Stdout.Fd())
}

// interactive reports whether we can prompt the operator.
func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

// confirm prompts the operator with a yes/no question. Outside a
// terminal it returns an error rather than guessing.
func confirm(title string) (bool, error) {
	if !interactive() {
		return false, fmt.Errorf("confirmation required but not running in a terminal (use --yes)")
	}

	var proceed bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Apply").
			Negative("Cancel").
			Value(&proceed),
	))
	if err := form.Run(); err != nil {
		return false, err
	}
	return proceed, nil
}
