// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"time"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath     string
	stateDir       string
	lockFile       string
	verbose        bool
	noColor        bool
	dryRun         bool
	autoConfirm    bool
	skipCheckpoint bool
	lockTimeout    time.Duration
	noSaveState    bool
	preferGUI      bool
	noAutoMerge    bool
	forceRollback  bool

	rootCmd = &cobra.Command{
		Use:   "tidepool",
		Short: "Declarative ZFS volume, container and share management for one host",
		Long: `Tidepool reads a YAML description of the volumes, containers and
network shares a host should have, shows the changes needed to get
there, and applies them with checkpointing and rollback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging()
		},
	}

	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Show the changes needed to reach the desired state",
		RunE:  runPlan,
	}

	applyCmd = &cobra.Command{
		Use:   "apply",
		Short: "Apply the desired state to this host",
		RunE:  runApply,
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Record a snapshot of the host's current state",
		RunE:  runScan,
	}

	driftCmd = &cobra.Command{
		Use:   "drift",
		Short: "Compare desired state against the last recorded snapshot",
		RunE:  runDrift,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show what tidepool manages on this host",
		RunE:  runStatus,
	}

	rollbackCmd = &cobra.Command{
		Use:   "rollback",
		Short: "Restore the host to the most recent checkpoint",
		RunE:  runRollback,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tidepool.yaml",
		"path to the desired-state configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "",
		"state directory (overrides config, default /var/lib/tidepool)")
	rootCmd.PersistentFlags().StringVar(&lockFile, "lock-file", "",
		"apply lock file (default /var/run/tidepool/apply.lock)")

	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"show the plan and exit without changing anything")
	applyCmd.Flags().BoolVarP(&autoConfirm, "yes", "y", false,
		"apply without interactive confirmation")
	applyCmd.Flags().BoolVar(&skipCheckpoint, "skip-checkpoint", false,
		"do not snapshot affected volumes before applying")
	applyCmd.Flags().DurationVar(&lockTimeout, "lock-timeout", 30*time.Second,
		"how long to wait for the apply lock")

	scanCmd.Flags().BoolVar(&noSaveState, "no-save-state", false,
		"print the snapshot without recording it")

	driftCmd.Flags().BoolVar(&preferGUI, "prefer-gui", false,
		"resolve harmless drift by updating the config instead of the host")
	driftCmd.Flags().BoolVar(&noAutoMerge, "no-auto-merge", false,
		"require confirmation for every drift finding")

	rollbackCmd.Flags().BoolVarP(&forceRollback, "force", "f", false,
		"destroy snapshots newer than the checkpoint if needed (zfs rollback -r)")

	rootCmd.AddCommand(planCmd, applyCmd, scanCmd, driftCmd, statusCmd, rollbackCmd)
}
