// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	createStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	modifyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	headerStyle = lipgloss.NewStyle().Bold(true)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
)

// Render formats the changeset for terminal output. When color is
// false the same layout is produced without ANSI styling.
func Render(cs *ChangeSet, color bool) string {
	style := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder

	if cs.Empty() {
		b.WriteString("No changes required.\n")
		renderNotes(&b, cs, style)
		return b.String()
	}

	if len(cs.Volumes) > 0 {
		b.WriteString(style(headerStyle, "Volumes:") + "\n")
		for _, change := range cs.Volumes {
			renderVolume(&b, change, style)
		}
		b.WriteString("\n")
	}

	if len(cs.Containers) > 0 {
		b.WriteString(style(headerStyle, "Containers:") + "\n")
		for _, change := range cs.Containers {
			renderContainer(&b, change, style)
		}
		b.WriteString("\n")
	}

	if len(cs.Shares) > 0 {
		b.WriteString(style(headerStyle, "Shares:") + "\n")
		for _, change := range cs.Shares {
			b.WriteString(fmt.Sprintf("  %s %s share %q on %s\n",
				style(createStyle, "+"), strings.ToUpper(change.Kind),
				change.Name, change.Mountpoint))
		}
		b.WriteString("\n")
	}

	renderNotes(&b, cs, style)

	b.WriteString(fmt.Sprintf("Plan: %d change(s) to apply\n", cs.Count()))
	return b.String()
}

func renderVolume(b *strings.Builder, change VolumeChange, style func(lipgloss.Style, string) string) {
	switch change.Type {
	case ChangeCreate:
		b.WriteString(fmt.Sprintf("  %s create %s\n", style(createStyle, "+"), change.Volume))
		if change.Mountpoint != "" {
			b.WriteString(style(detailStyle,
				fmt.Sprintf("      mountpoint = %s", change.Mountpoint)) + "\n")
		}
		for _, prop := range sortedPropertyKeys(change.Properties) {
			b.WriteString(style(detailStyle,
				fmt.Sprintf("      %s = %s", prop, change.Properties[prop].New)) + "\n")
		}
	case ChangeModify:
		b.WriteString(fmt.Sprintf("  %s modify %s\n", style(modifyStyle, "~"), change.Volume))
		for _, prop := range sortedPropertyKeys(change.Properties) {
			pc := change.Properties[prop]
			b.WriteString(style(detailStyle,
				fmt.Sprintf("      %s: %s -> %s", prop, pc.Old, pc.New)) + "\n")
		}
	}
}

func renderContainer(b *strings.Builder, change ContainerChange, style func(lipgloss.Style, string) string) {
	switch change.Action {
	case ActionCreate:
		b.WriteString(fmt.Sprintf("  %s create container %q (template %s)\n",
			style(createStyle, "+"), change.Name, change.Template))
	case ActionMount:
		ro := ""
		if change.ReadOnly {
			ro = " (ro)"
		}
		b.WriteString(fmt.Sprintf("  %s mount %s -> %s:%s%s\n",
			style(createStyle, "+"), change.HostPath, change.Name, change.MountPath, ro))
	}
}

func renderNotes(b *strings.Builder, cs *ChangeSet, style func(lipgloss.Style, string) string) {
	for _, note := range cs.Notes {
		b.WriteString(style(noteStyle, "  note: "+note) + "\n")
	}
	if len(cs.Notes) > 0 {
		b.WriteString("\n")
	}
}

func sortedPropertyKeys(m map[string]PropertyChange) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
