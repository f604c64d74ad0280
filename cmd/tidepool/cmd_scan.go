// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidepool/services/reality"
)

func runScan(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	collector := reality.NewCollector(rt.zfs, rt.lxc)
	snap, err := collector.Collect(cmd.Context(), rt.poolNames())
	if err != nil {
		return err
	}

	if noSaveState {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snap)
	}

	handle, err := rt.store.RecordSnapshot(snap)
	if err != nil {
		return err
	}
	if handle == "" {
		fmt.Println("State tracking disabled; snapshot not recorded.")
		return nil
	}

	fmt.Printf("Recorded snapshot %s: %d container(s), %d pool(s).\n",
		handle, len(snap.Containers), len(snap.Volumes))
	return nil
}
