// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mixedReport() *Report {
	report := &Report{}
	report.Add(Item{ResourceType: "volume", Identifier: "tank/media",
		Field: "exists", Severity: SeverityDangerous})
	report.Add(Item{ResourceType: "volume", Identifier: "tank/media",
		Field: "zfs.compression", Severity: SeverityAutoMerge})
	report.Add(Item{ResourceType: "container", Identifier: "jellyfin",
		Field: "mounts", Severity: SeverityAutoMerge})
	report.Add(Item{ResourceType: "volume", Identifier: "tank/media",
		Field: "used", Severity: SeverityInfo})
	return report
}

func TestDefaultPolicyRouting(t *testing.T) {
	plan := BuildPlan(mixedReport(), DefaultPolicy())

	assert.Len(t, plan.ConfirmationsRequired, 1)
	assert.Len(t, plan.ApplyToReality, 2)
	assert.Empty(t, plan.UpdateDesired)
	assert.Len(t, plan.Informational, 1)
	assert.True(t, plan.RequiresConfirmation())
}

func TestPreferGUIRoutesToDesired(t *testing.T) {
	plan := BuildPlan(mixedReport(), Policy{PreferGUI: true, AutoMerge: true})

	assert.Len(t, plan.UpdateDesired, 2)
	assert.Empty(t, plan.ApplyToReality)
	assert.Len(t, plan.ConfirmationsRequired, 1,
		"dangerous findings confirm regardless of GUI preference")
}

func TestDisabledAutoMergeDemotesEverything(t *testing.T) {
	plan := BuildPlan(mixedReport(), Policy{AutoMerge: false})

	assert.Empty(t, plan.ApplyToReality)
	assert.Empty(t, plan.UpdateDesired)
	assert.Len(t, plan.ConfirmationsRequired, 3)
	assert.Len(t, plan.Informational, 1)
}

func TestCleanReportNeedsNoConfirmation(t *testing.T) {
	plan := BuildPlan(&Report{}, DefaultPolicy())
	assert.False(t, plan.RequiresConfirmation())
}
