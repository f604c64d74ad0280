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

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidepool/services/drift"
)

func runDrift(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	report, status := drift.Analyze(rt.cfg, configPath, rt.store)
	switch status {
	case drift.StatusOK:
	case drift.StatusMissingSnapshot:
		fmt.Println("No reality snapshot recorded yet; run 'tidepool scan' first.")
		return nil
	case drift.StatusSnapshotError:
		return fmt.Errorf("last reality snapshot is unreadable; run 'tidepool scan' to record a fresh one")
	default:
		return fmt.Errorf("drift analysis unavailable: %s", status)
	}

	if report.IsClean() {
		fmt.Println("No drift detected.")
		return nil
	}

	renderDriftTable(report)

	policy := drift.Policy{PreferGUI: preferGUI, AutoMerge: !noAutoMerge}
	reconciliation := drift.BuildPlan(report, policy)

	fmt.Println()
	if n := len(reconciliation.ApplyToReality); n > 0 {
		fmt.Printf("%d finding(s) would be resolved by 'tidepool apply'.\n", n)
	}
	if n := len(reconciliation.UpdateDesired); n > 0 {
		fmt.Printf("%d finding(s) should be folded into %s (live values win under --prefer-gui).\n",
			n, configPath)
	}
	if reconciliation.RequiresConfirmation() {
		fmt.Printf("%d finding(s) require an operator decision before any reconciliation.\n",
			len(reconciliation.ConfirmationsRequired))
	}
	return nil
}

func renderDriftTable(report *drift.Report) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Severity", "Resource", "Identifier", "Field", "Desired", "Reality"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, item := range report.Items {
		table.Append([]string{
			string(item.Severity),
			item.ResourceType,
			item.Identifier,
			item.Field,
			item.Desired,
			item.Reality,
		})
	}
	table.Render()
}
