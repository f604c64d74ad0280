// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package drift

// Policy expresses the user's preference for reconciling drift.
type Policy struct {
	// PreferGUI means live (GUI-made) values win: auto-merge drift
	// is pulled back into the desired config instead of pushed onto
	// the host.
	PreferGUI bool

	// AutoMerge permits harmless drift to be reconciled without
	// confirmation. When false, everything requires confirmation.
	AutoMerge bool
}

// DefaultPolicy merges harmless drift automatically with the desired
// config as the source of truth.
func DefaultPolicy() Policy {
	return Policy{PreferGUI: false, AutoMerge: true}
}

// ReconciliationPlan organizes drift findings into action buckets.
// It is advice only: building a plan mutates nothing.
type ReconciliationPlan struct {
	// ApplyToReality holds drift to resolve by pushing desired
	// values onto the live system.
	ApplyToReality []Item

	// UpdateDesired holds drift to resolve by pulling live values
	// into the desired config.
	UpdateDesired []Item

	// ConfirmationsRequired holds drift that must not be reconciled
	// without an operator decision.
	ConfirmationsRequired []Item

	// Informational holds findings with no action attached.
	Informational []Item
}

// RequiresConfirmation reports whether any finding needs an operator
// decision.
func (p *ReconciliationPlan) RequiresConfirmation() bool {
	return len(p.ConfirmationsRequired) > 0
}

// BuildPlan converts a drift report into a reconciliation plan under
// the given policy.
//
// Dangerous findings always require confirmation regardless of
// policy. Auto-merge findings go to ApplyToReality, or to
// UpdateDesired when PreferGUI is set. Disabling AutoMerge demotes
// every non-dangerous finding to the confirmation bucket.
func BuildPlan(report *Report, policy Policy) *ReconciliationPlan {
	plan := &ReconciliationPlan{}

	for _, item := range report.Items {
		switch item.Severity {
		case SeverityDangerous:
			plan.ConfirmationsRequired = append(plan.ConfirmationsRequired, item)
		case SeverityAutoMerge:
			if policy.PreferGUI {
				plan.UpdateDesired = append(plan.UpdateDesired, item)
			} else {
				plan.ApplyToReality = append(plan.ApplyToReality, item)
			}
		default:
			plan.Informational = append(plan.Informational, item)
		}
	}

	if !policy.AutoMerge {
		plan.ConfirmationsRequired = append(plan.ConfirmationsRequired, plan.ApplyToReality...)
		plan.ConfirmationsRequired = append(plan.ConfirmationsRequired, plan.UpdateDesired...)
		plan.ApplyToReality = nil
		plan.UpdateDesired = nil
	}

	return plan
}
