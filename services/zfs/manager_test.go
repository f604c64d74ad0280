// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package zfs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidepool/pkg/hostrun"
	"github.com/AleutianAI/tidepool/pkg/logging"
)

// scriptRunner returns canned output keyed by the joined command line
// and records every invocation.
type scriptRunner struct {
	responses map[string]string
	errors    map[string]error
	commands  []string
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{responses: map[string]string{}, errors: map[string]error{}}
}

func (r *scriptRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	cmd := name + " " + strings.Join(args, " ")
	r.commands = append(r.commands, cmd)
	if err, ok := r.errors[cmd]; ok {
		return "", err
	}
	return r.responses[cmd], nil
}

func newTestManager(r *scriptRunner) *Manager {
	return NewManager(r, logging.Discard())
}

func TestListVolumes(t *testing.T) {
	r := newScriptRunner()
	r.responses["zfs list -H -p -r -o name,used,avail,mountpoint -t filesystem tank"] =
		"tank\t1000\t5000\t/tank\n" +
			"tank/media\t800\t5000\t/tank/media\n"
	r.responses["zfs get -H -p -r -o name,property,value atime,compression,recordsize,sync tank"] =
		"tank/media\tatime\toff\n" +
			"tank/media\tcompression\tlz4\n" +
			"tank/media\trecordsize\t1048576\n" +
			"tank/media\tsync\tstandard\n"

	volumes, err := newTestManager(r).ListVolumes(context.Background(), "tank")
	require.NoError(t, err)

	require.Contains(t, volumes, "tank/media")
	media := volumes["tank/media"]
	assert.Equal(t, "/tank/media", media["mountpoint"])
	assert.Equal(t, "lz4", media["compression"])
	assert.Equal(t, "1M", media["recordsize"], "recordsize is humanized")
	assert.Equal(t, "800", media["used"])
}

func TestExists(t *testing.T) {
	r := newScriptRunner()
	r.responses["zfs list -H -o name tank/media"] = "tank/media\n"
	r.errors["zfs list -H -o name tank/missing"] = &hostrun.CommandError{
		Command: "zfs list",
		Stderr:  "cannot open 'tank/missing': dataset does not exist",
		Err:     errors.New("exit status 1"),
	}
	r.errors["zfs list -H -o name tank/broken"] = &hostrun.CommandError{
		Command: "zfs list",
		Stderr:  "permission denied",
		Err:     errors.New("exit status 1"),
	}

	m := newTestManager(r)

	exists, err := m.Exists(context.Background(), "tank/media")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = m.Exists(context.Background(), "tank/missing")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = m.Exists(context.Background(), "tank/broken")
	assert.Error(t, err)
}

func TestCreateBuildsSortedArgs(t *testing.T) {
	r := newScriptRunner()
	r.errors["zfs list -H -o name tank/media"] = &hostrun.CommandError{
		Stderr: "does not exist", Err: errors.New("exit status 1")}

	err := newTestManager(r).Create(context.Background(), "tank/media", "/tank/media",
		map[string]string{"compression": "lz4", "atime": "off"})
	require.NoError(t, err)

	require.Len(t, r.commands, 2)
	assert.Equal(t,
		"zfs create -p -o atime=off -o compression=lz4 -o mountpoint=/tank/media tank/media",
		r.commands[1])
}

func TestCreateOnExistingSyncsProperties(t *testing.T) {
	r := newScriptRunner()
	r.responses["zfs list -H -o name tank/media"] = "tank/media\n"
	r.responses["zfs get -H -p -o property,value mountpoint,atime,compression,recordsize,sync tank/media"] =
		"mountpoint\t/tank/media\ncompression\toff\n"

	err := newTestManager(r).Create(context.Background(), "tank/media", "/tank/media",
		map[string]string{"compression": "lz4"})
	require.NoError(t, err)

	assert.Contains(t, r.commands, "zfs set compression=lz4 tank/media")
	for _, cmd := range r.commands {
		assert.NotContains(t, cmd, "zfs create")
	}
}

func TestSyncPropertiesSkipsMatchingValues(t *testing.T) {
	r := newScriptRunner()
	r.responses["zfs get -H -p -o property,value mountpoint,atime,compression,recordsize,sync tank/media"] =
		"mountpoint\t/tank/media\ncompression\tlz4\n"

	err := newTestManager(r).SyncProperties(context.Background(), "tank/media", "/tank/media",
		map[string]string{"compression": "lz4"})
	require.NoError(t, err)

	for _, cmd := range r.commands {
		assert.NotContains(t, cmd, "zfs set")
	}
}

func TestSnapshotLifecycle(t *testing.T) {
	r := newScriptRunner()
	m := newTestManager(r)
	ctx := context.Background()

	require.NoError(t, m.Snapshot(ctx, "tank/media", "tidepool_apply_x"))
	require.NoError(t, m.Rollback(ctx, "tank/media", "tidepool_apply_x", true))
	require.NoError(t, m.DestroySnapshot(ctx, "tank/media", "tidepool_apply_x"))

	assert.Equal(t, []string{
		"zfs snapshot tank/media@tidepool_apply_x",
		"zfs rollback -r tank/media@tidepool_apply_x",
		"zfs destroy tank/media@tidepool_apply_x",
	}, r.commands)
}

func TestRollbackWithoutForce(t *testing.T) {
	r := newScriptRunner()
	require.NoError(t, newTestManager(r).Rollback(context.Background(), "tank/media", "s", false))
	assert.Equal(t, "zfs rollback tank/media@s", r.commands[0])
}

func TestListSnapshotsFiltersForeign(t *testing.T) {
	r := newScriptRunner()
	r.responses["zfs list -H -t snapshot -o name -s creation -r tank/media"] =
		"tank/media@manual_backup\n" +
			"tank/media@tidepool_apply_20250101_000000\n" +
			"tank/media@tidepool_apply_20250102_000000\n"

	names, err := newTestManager(r).ListSnapshots(context.Background(), "tank/media")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tidepool_apply_20250101_000000",
		"tidepool_apply_20250102_000000",
	}, names)
}

func TestCleanupSnapshotsKeepsNewest(t *testing.T) {
	r := newScriptRunner()
	r.responses["zfs list -H -t snapshot -o name -s creation -r tank/media"] =
		"tank/media@tidepool_a\ntank/media@tidepool_b\ntank/media@tidepool_c\n"

	require.NoError(t, newTestManager(r).CleanupSnapshots(context.Background(), "tank/media", 1))

	assert.Contains(t, r.commands, "zfs destroy tank/media@tidepool_a")
	assert.Contains(t, r.commands, "zfs destroy tank/media@tidepool_b")
	assert.NotContains(t, r.commands, "zfs destroy tank/media@tidepool_c")
}

func TestHumanizeProperty(t *testing.T) {
	assert.Equal(t, "128K", humanizeProperty("recordsize", "131072"))
	assert.Equal(t, "1M", humanizeProperty("recordsize", "1048576"))
	assert.Equal(t, "8192", humanizeProperty("volblocksize", "8192"))
	assert.Equal(t, "on", humanizeProperty("recordsize", "on"))
}
