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
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidepool/services/lock"
)

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	stats := rt.store.Stats()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Resource", "Managed", "Created by tidepool"})
	table.SetBorder(false)
	table.Append([]string{"Volumes",
		strconv.Itoa(stats.VolumesManaged), strconv.Itoa(stats.VolumesCreated)})
	table.Append([]string{"Containers",
		strconv.Itoa(stats.ContainersManaged), strconv.Itoa(stats.ContainersCreated)})
	table.Append([]string{"Mounts", strconv.Itoa(stats.MountsManaged), "-"})
	table.Append([]string{"SMB shares", strconv.Itoa(stats.SMBShares), "-"})
	table.Append([]string{"NFS shares", strconv.Itoa(stats.NFSShares), "-"})
	table.Render()

	fmt.Printf("\nExternal (pre-existing) volumes: %d\n", stats.VolumesExternal)
	fmt.Printf("Recorded reality snapshots: %d\n", stats.RealitySnapshots)

	if snapshots := rt.store.Snapshots(); len(snapshots) > 0 {
		last := snapshots[len(snapshots)-1]
		fmt.Printf("Last scan: %s (%s)\n",
			last.RecordedAt.Format(time.RFC3339), last.Handle)
	}

	if holder := lock.Status(lockPath()); holder != nil {
		fmt.Printf("Apply lock held by PID %d since %s\n",
			holder.PID, holder.AcquiredAt.Format(time.RFC3339))
	}
	return nil
}
