// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package hostrun abstracts execution of host management commands.
//
// The resource managers (zfs, pct, share tooling) shell out to the
// host's own administration binaries. Runner is the seam that lets
// tests substitute canned output for real subprocess calls.
package hostrun

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a host command and returns its stdout.
//
// Implementations must be synchronous: the call blocks until the
// command exits. A non-zero exit status is returned as a *CommandError
// carrying the captured stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// CommandError describes a host command that exited non-zero.
type CommandError struct {
	Command string
	Stderr  string
	Err     error
}

// Error formats the failed command line with its stderr tail.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap returns the underlying exec error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// Run executes the command, blocking until it exits.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), &CommandError{
			Command: name + " " + strings.Join(args, " "),
			Stderr:  stderr.String(),
			Err:     err,
		}
	}
	return stdout.String(), nil
}
