// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidepool/services/capacity"
	"github.com/AleutianAI/tidepool/services/plan"
)

func runPlan(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	planner := plan.NewPlanner(rt.zfs, rt.lxc, rt.store, log)
	cs, err := planner.Plan(cmd.Context(), rt.model)
	if err != nil {
		return err
	}

	fmt.Print(plan.Render(cs, useColor()))
	printCapacityFindings(rt)
	return nil
}

// printCapacityFindings runs the capacity check in advisory mode.
// Plan never blocks on it; apply does.
func printCapacityFindings(rt *runtimeEnv) {
	host, err := capacity.DetectHost()
	if err != nil {
		log.Debug("host capacity detection unavailable", "error", err)
		return
	}

	result := capacity.Validate(rt.model, host)
	for _, warning := range result.Warnings {
		fmt.Println("Warning:", warning)
	}
	for _, msg := range result.Errors {
		fmt.Println("Error:", msg)
	}
}
