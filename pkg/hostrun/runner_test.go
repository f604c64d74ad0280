// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package hostrun

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecRunnerCapturesStdout(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("stdout = %q, want hello", out)
	}
}

func TestExecRunnerWrapsFailures(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo oops >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error should be *CommandError, got %T", err)
	}
	if !strings.Contains(cmdErr.Stderr, "oops") {
		t.Errorf("stderr = %q, want captured oops", cmdErr.Stderr)
	}
	if !strings.Contains(cmdErr.Error(), "oops") {
		t.Errorf("message %q should include stderr", cmdErr.Error())
	}
}

func TestExecRunnerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (ExecRunner{}).Run(ctx, "sh", "-c", "sleep 5"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
