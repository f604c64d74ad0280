// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package drift

import (
	"github.com/AleutianAI/tidepool/services/config"
	"github.com/AleutianAI/tidepool/services/reality"
	"github.com/AleutianAI/tidepool/services/state"
)

// Status is the closed set of reasons a drift analysis can be
// unavailable. Drift is advisory: none of these block plan or apply,
// they only disable the drift section of the output.
type Status int

const (
	// StatusOK means a report was produced.
	StatusOK Status = iota

	// StatusNoConfig means no configuration was supplied.
	StatusNoConfig

	// StatusDesiredError means the desired-state model could not be
	// built from the configuration.
	StatusDesiredError

	// StatusMissingSnapshot means no reality snapshot has been
	// recorded yet (run a scan first).
	StatusMissingSnapshot

	// StatusSnapshotError means a snapshot exists but could not be
	// read or parsed. Scanning again is the remedy, not the first
	// scan that StatusMissingSnapshot suggests.
	StatusSnapshotError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoConfig:
		return "no-config"
	case StatusDesiredError:
		return "desired-error"
	case StatusMissingSnapshot:
		return "missing-snapshot"
	case StatusSnapshotError:
		return "snapshot-error"
	default:
		return "unknown"
	}
}

// SnapshotSource yields the last recorded reality snapshot.
type SnapshotSource interface {
	LastSnapshot() (*reality.Snapshot, error)
}

// Analyze builds the desired-state model and compares it against the
// last recorded snapshot.
//
// The report is nil whenever the status is not StatusOK; callers
// branch on the status instead of catching errors.
func Analyze(doc *config.Document, source string, snapshots SnapshotSource) (*Report, Status) {
	if doc == nil {
		return nil, StatusNoConfig
	}

	model, err := state.Build(doc, source)
	if err != nil {
		return nil, StatusDesiredError
	}

	snap, err := snapshots.LastSnapshot()
	if err != nil {
		return nil, StatusSnapshotError
	}
	if snap == nil {
		return nil, StatusMissingSnapshot
	}

	return NewDetector(model, snap).Run(), StatusOK
}
