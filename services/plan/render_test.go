// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderEmptyChangeSet(t *testing.T) {
	out := Render(&ChangeSet{}, false)
	assert.Contains(t, out, "No changes required.")
	assert.NotContains(t, out, "Plan:")
}

func TestRenderFullChangeSet(t *testing.T) {
	out := Render(fullChangeSet(), false)

	assert.Contains(t, out, "+ create tank/media")
	assert.Contains(t, out, "compression = lz4")
	assert.Contains(t, out, "~ modify tank/existing")
	assert.Contains(t, out, "compression: off -> zstd")
	assert.Contains(t, out, `+ create container "builder"`)
	assert.Contains(t, out, "+ mount /tank/media -> builder:/media")
	assert.Contains(t, out, `SMB share "media" on /tank/media`)
	assert.Contains(t, out, "Plan: 6 change(s) to apply")
}

func TestRenderNotes(t *testing.T) {
	cs := &ChangeSet{Notes: []string{"container \"jellyfin\" does not exist"}}
	out := Render(cs, false)
	assert.Contains(t, out, "note: container")
	assert.Contains(t, out, "No changes required.")
}

func TestRenderReadOnlyMount(t *testing.T) {
	cs := &ChangeSet{Containers: []ContainerChange{{
		Name: "jellyfin", Action: ActionMount,
		HostPath: "/tank/media", MountPath: "/media", ReadOnly: true,
	}}}
	out := Render(cs, false)
	assert.Contains(t, out, "jellyfin:/media (ro)")
}
