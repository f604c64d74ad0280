// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package capacity checks auto-created containers against host limits.
//
// Only containers flagged for auto-creation count: adopted containers
// are not tidepool's resource footprint. The check is a soft advisory
// gate — errors block apply, warnings do not, and an unparseable
// memory request falls back to a default rather than failing (the
// hard validation of config correctness lives elsewhere).
package capacity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/tidepool/services/state"
)

// DefaultMemoryMB is assumed when a memory request cannot be parsed.
// TODO: revisit — an unparseable request arguably deserves a hard
// config error instead of a silent 512 MB default.
const DefaultMemoryMB = 512

// warnThreshold is the capacity fraction that triggers a warning.
const warnThreshold = 0.9

// HostResources is the detected capacity of the host.
type HostResources struct {
	TotalMemoryMB int `json:"total_memory_mb"`
	TotalSwapMB   int `json:"total_swap_mb"`
	TotalCores    int `json:"total_cores"`
}

// Result is the outcome of a capacity validation pass.
type Result struct {
	AutoCreateCount int      `json:"auto_create_count"`
	TotalMemoryMB   int      `json:"total_memory_mb"`
	TotalCores      int      `json:"total_cores"`
	Warnings        []string `json:"warnings,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// HasErrors reports whether apply must be blocked.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Validate totals the resource requests of every auto-create
// container in the model and compares them against host capacity.
//
// A request at or above 100% of capacity is an error; at or above 90%
// it is a warning. Cores use the same thresholds against the detected
// logical core count.
func Validate(model *state.Model, host HostResources) *Result {
	result := &Result{}

	for _, name := range sortedContainerNames(model) {
		container := model.Containers[name]
		if !container.AutoCreate {
			continue
		}
		result.AutoCreateCount++
		result.TotalMemoryMB += ParseMemoryMB(string(container.Resources.Memory), DefaultMemoryMB)
		result.TotalCores += coresOrDefault(container.Resources.Cores)
	}

	if result.AutoCreateCount == 0 {
		return result
	}

	evaluateMemory(result, host)
	evaluateCores(result, host)
	return result
}

func evaluateMemory(result *Result, host HostResources) {
	available := host.TotalMemoryMB
	if available <= 0 {
		return
	}

	requested := result.TotalMemoryMB
	usage := float64(requested) / float64(available)
	switch {
	case requested >= available:
		result.Errors = append(result.Errors, fmt.Sprintf(
			"auto-created containers request %d MB RAM but host has %d MB",
			requested, available))
	case usage >= warnThreshold:
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"auto-created containers will consume %.0f%% of host RAM (%d/%d MB)",
			usage*100, requested, available))
	}
}

func evaluateCores(result *Result, host HostResources) {
	available := host.TotalCores
	if available <= 0 {
		available = 1
	}

	requested := result.TotalCores
	usage := float64(requested) / float64(available)
	switch {
	case requested >= available:
		result.Errors = append(result.Errors, fmt.Sprintf(
			"auto-created containers request %d CPU cores but host reports %d",
			requested, available))
	case usage >= warnThreshold:
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"auto-created containers will consume %.0f%% of host CPU cores (%d/%d)",
			usage*100, requested, available))
	}
}

// ParseMemoryMB parses a memory request into megabytes.
//
// Accepts a bare number (megabytes) or a value suffixed with G or M.
// Returns def when the value is empty or unparseable.
func ParseMemoryMB(value string, def int) int {
	text := strings.ToUpper(strings.TrimSpace(value))
	if text == "" {
		return def
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(text, "G"):
		multiplier = 1024
		text = strings.TrimSuffix(text, "G")
	case strings.HasSuffix(text, "M"):
		text = strings.TrimSuffix(text, "M")
	}

	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return def
	}
	return int(n * multiplier)
}

func coresOrDefault(cores int) int {
	if cores <= 0 {
		return 1
	}
	return cores
}

func sortedContainerNames(model *state.Model) []string {
	names := make([]string, 0, len(model.Containers))
	for name := range model.Containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
