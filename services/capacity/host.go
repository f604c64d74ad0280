// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package capacity

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// meminfoPath and numCPU are swappable for tests.
var (
	meminfoPath = "/proc/meminfo"
	numCPU      = runtime.NumCPU
)

// DetectHost reads total memory and swap from /proc/meminfo and the
// logical core count from the Go runtime.
func DetectHost() (HostResources, error) {
	data, err := os.ReadFile(meminfoPath)
	if err != nil {
		return HostResources{}, fmt.Errorf("reading %s: %w", meminfoPath, err)
	}

	host := HostResources{TotalCores: numCPU()}
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			host.TotalMemoryMB = kilobytesToMB(line)
		case strings.HasPrefix(line, "SwapTotal:"):
			host.TotalSwapMB = kilobytesToMB(line)
		}
	}

	if host.TotalMemoryMB == 0 {
		return HostResources{}, fmt.Errorf("no MemTotal entry in %s", meminfoPath)
	}
	return host, nil
}

// kilobytesToMB parses a meminfo line such as "MemTotal: 16384000 kB".
func kilobytesToMB(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	kb, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return kb / 1024
}
