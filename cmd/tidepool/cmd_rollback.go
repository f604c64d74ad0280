// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidepool/services/recovery"
)

func runRollback(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	recoveryMgr := recovery.NewManager(rt.zfs, rt.checkpointDir(), log)
	cp, err := recoveryMgr.Latest()
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Println("No checkpoint found.")
		return nil
	}

	fmt.Printf("Checkpoint %q from %s: %d volume(s), %d config backup(s).\n",
		cp.Label, cp.Timestamp.Format(time.RFC3339),
		len(cp.Snapshots), len(cp.ConfigBackups))

	if interactive() {
		proceed, err := confirm("Roll the host back to this checkpoint?")
		if err != nil {
			return err
		}
		if !proceed {
			fmt.Println("Rollback cancelled.")
			return nil
		}
	}

	if err := recoveryMgr.Rollback(cmd.Context(), cp, forceRollback); err != nil {
		return fmt.Errorf("rollback incomplete: %w", err)
	}

	fmt.Println("Rollback complete.")
	return nil
}
