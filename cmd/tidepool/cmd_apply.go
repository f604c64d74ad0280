// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidepool/services/capacity"
	"github.com/AleutianAI/tidepool/services/drift"
	"github.com/AleutianAI/tidepool/services/lock"
	"github.com/AleutianAI/tidepool/services/plan"
	"github.com/AleutianAI/tidepool/services/recovery"
)

// runApply is the full reconciliation pipeline: plan, capacity gate,
// drift advisory, confirmation, lock, checkpoint, apply, rollback on
// failure.
func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	planner := plan.NewPlanner(rt.zfs, rt.lxc, rt.store, log)
	cs, err := planner.Plan(ctx, rt.model)
	if err != nil {
		return err
	}

	fmt.Print(plan.Render(cs, useColor()))
	if cs.Empty() {
		return nil
	}

	if err := gateOnCapacity(rt); err != nil {
		return err
	}
	printDriftAdvisory(rt)

	if dryRun {
		fmt.Println("Dry run: no changes applied.")
		return nil
	}

	if !autoConfirm {
		proceed, err := confirm(fmt.Sprintf("Apply %d change(s) to this host?", cs.Count()))
		if err != nil {
			return err
		}
		if !proceed {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	applyLock := lock.New(lockPath())
	if err := applyLock.Acquire(lockTimeout); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			return fmt.Errorf("another apply is running: %w", held)
		}
		return err
	}
	defer func() {
		if err := applyLock.Release(); err != nil {
			log.Warn("failed to release apply lock", "error", err)
		}
	}()

	return applyWithCheckpoint(ctx, rt, cs)
}

// gateOnCapacity blocks the apply when auto-created containers exceed
// host resources. Warnings are printed but do not block.
func gateOnCapacity(rt *runtimeEnv) error {
	host, err := capacity.DetectHost()
	if err != nil {
		log.Warn("skipping capacity check, host detection failed", "error", err)
		return nil
	}

	result := capacity.Validate(rt.model, host)
	for _, warning := range result.Warnings {
		fmt.Println("Warning:", warning)
	}
	if result.HasErrors() {
		for _, msg := range result.Errors {
			fmt.Println("Error:", msg)
		}
		return fmt.Errorf("capacity check failed (%d error(s))", len(result.Errors))
	}
	return nil
}

// printDriftAdvisory surfaces drift against the last recorded
// snapshot before applying. Advisory only: a stale or missing
// snapshot never blocks an apply.
func printDriftAdvisory(rt *runtimeEnv) {
	report, status := drift.Analyze(rt.cfg, configPath, rt.store)
	switch status {
	case drift.StatusOK:
		if report.IsClean() {
			return
		}
		summary := report.Summary()
		fmt.Printf("Note: %d drift finding(s) against the last snapshot (%d dangerous); run 'tidepool drift' for details.\n",
			len(report.Items), summary[drift.SeverityDangerous])
	case drift.StatusMissingSnapshot:
		log.Debug("no reality snapshot recorded, skipping drift advisory")
	default:
		log.Debug("drift advisory unavailable", "status", status.String())
	}
}

func applyWithCheckpoint(ctx context.Context, rt *runtimeEnv, cs *plan.ChangeSet) error {
	recoveryMgr := recovery.NewManager(rt.zfs, rt.checkpointDir(), log)

	var cp *recovery.Checkpoint
	if !skipCheckpoint {
		backups := append([]string{configPath}, rt.cfg.Settings.BackupFiles...)
		var err error
		cp, err = recoveryMgr.CreateCheckpoint(ctx, "apply", cs.AffectedVolumes(), backups)
		if err != nil {
			return fmt.Errorf("checkpoint failed, nothing applied: %w", err)
		}
	}

	applicator := plan.NewApplicator(rt.zfs, rt.lxc, rt.shares, rt.store, log)
	result, err := applicator.Apply(ctx, cs)
	if err != nil {
		log.Error("apply failed", "applied", result.Applied(), "error", err)
		if cp != nil {
			fmt.Println("Apply failed, rolling back to checkpoint...")
			if rbErr := recoveryMgr.Rollback(ctx, cp, true); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback incomplete: %w", rbErr))
			}
			fmt.Println("Rollback complete.")
		}
		return err
	}

	if cp != nil {
		if err := recoveryMgr.CleanupSnapshots(ctx, cp); err != nil {
			log.Warn("failed to clean up checkpoint snapshots", "error", err)
		}
	}

	fmt.Printf("Apply complete: %d change(s) applied.\n", result.Applied())
	return nil
}
