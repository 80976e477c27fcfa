// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package detection

import (
	"path/filepath"
	"strings"
)

// DefaultBlocklist returns USB VID:PID pairs that are never probed.
// Entries are hexadecimal and case-insensitive.
func DefaultBlocklist() []string {
	return []string{}
}

// IsBlocked reports whether vidpid is on the blocklist
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	if vidpid == "" {
		return false
	}

	for _, blocked := range blocklist {
		if vidpid == strings.ToUpper(strings.TrimSpace(blocked)) {
			return true
		}
	}
	return false
}

// ParseVIDPID normalizes a USB id to "VVVV:PPPP". It understands
// "VID:1234 PID:5678", "vendor=1234 product=5678" and "1234:5678", and
// returns "" for anything else.
func ParseVIDPID(descriptor string) string {
	descriptor = strings.ToUpper(strings.TrimSpace(descriptor))

	vid := valueAfter(descriptor, "VID:", "VENDOR=", "VID=")
	pid := valueAfter(descriptor, "PID:", "PRODUCT=", "PID=")
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}

	parts := strings.Split(descriptor, ":")
	if len(parts) == 2 && isHex(parts[0]) && isHex(parts[1]) {
		return descriptor
	}
	return ""
}

// valueAfter returns the hex digits following the first key found
func valueAfter(s string, keys ...string) string {
	for _, key := range keys {
		if idx := strings.Index(s, key); idx >= 0 {
			return extractHex(s[idx+len(key):])
		}
	}
	return ""
}

// extractHex returns the leading run of upper-case hex digits of s,
// ignoring leading blanks
func extractHex(s string) string {
	s = strings.TrimLeft(s, " \t")
	if end := strings.IndexFunc(s, func(r rune) bool { return !isHexRune(r) }); end >= 0 {
		return s[:end]
	}
	return s
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range strings.ToUpper(s) {
		if !isHexRune(r) {
			return false
		}
	}
	return true
}

// IsPathIgnored reports whether devicePath matches an entry of
// ignorePaths, comparing cleaned paths case-insensitively (COM ports on
// Windows). An I2C path with an address suffix also matches its bare bus.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	device := normalizedPath(devicePath)
	bus := device
	if i := strings.LastIndex(device, ":0x"); i > 0 {
		bus = device[:i]
	}

	for _, ignorePath := range ignorePaths {
		if ignorePath == "" {
			continue
		}
		ignored := normalizedPath(ignorePath)
		if ignored == device || ignored == bus {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
