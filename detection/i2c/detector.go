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

// Package i2c detects MFRC522 readers on Linux i2c-dev buses. Import it
// for its side effect of registering the detector.
package i2c

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/detection"
	"github.com/ZaparooProject/go-mfrc522/detection/internal/probe"
	"github.com/ZaparooProject/go-mfrc522/transport/i2c"
)

const probeTimeout = 2 * time.Second

// Package-level hooks, replaced in tests
var (
	globFn       = filepath.Glob
	accessibleFn = detection.Accessible
	probeFn      = probeDevice
)

type detector struct{}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "i2c"
}

// Detect lists configured readers and every i2c-dev bus at the default
// address, then probes them unless opts.Mode is Passive. Buses are only
// scanned on Linux; configured readers are honored everywhere.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	configured := detection.ConfiguredDevices("i2c")
	if runtime.GOOS != "linux" && len(configured) == 0 {
		return nil, detection.ErrUnsupportedPlatform
	}
	candidates := detection.MergeDevices(configured, scanBuses())

	var devices []detection.DeviceInfo
	for _, device := range candidates {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		// an empty bus ACKs nothing, so only configured addresses
		// survive a passive scan
		if opts.Mode == detection.Passive {
			if device.Confidence >= detection.Medium {
				devices = append(devices, device)
			}
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		version, ok := probeFn(probeCtx, device.Path, opts.Mode)
		cancel()
		if !ok {
			continue
		}
		probe.Annotate(&device, version)
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// scanBuses returns one candidate per accessible bus at DefaultAddress
func scanBuses() []detection.DeviceInfo {
	if runtime.GOOS != "linux" {
		return nil
	}
	matches, err := globFn("/dev/i2c-*")
	if err != nil {
		return nil
	}

	var devices []detection.DeviceInfo
	for _, bus := range matches {
		if !accessibleFn(bus) {
			continue
		}
		devices = append(devices, detection.DeviceInfo{
			Transport:  "i2c",
			Path:       fmt.Sprintf("%s:0x%02X", bus, i2c.DefaultAddress),
			Name:       "I2C device on " + filepath.Base(bus),
			Confidence: detection.Low,
			Metadata: map[string]string{
				"source":  "scan",
				"address": fmt.Sprintf("0x%02X", i2c.DefaultAddress),
			},
		})
	}
	return devices
}

func probeDevice(ctx context.Context, path string, mode detection.Mode) (mfrc522.ChipVersion, bool) {
	t, err := i2c.New(path)
	if err != nil {
		return mfrc522.ChipVersion{}, false
	}
	return probe.Chip(ctx, t, mode)
}
