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

// Package spi detects MFRC522 readers on Linux spidev nodes. Import it
// for its side effect of registering the detector.
package spi

import (
	"context"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/detection"
	"github.com/ZaparooProject/go-mfrc522/detection/internal/probe"
	"github.com/ZaparooProject/go-mfrc522/transport/spi"
)

const probeTimeout = 2 * time.Second

// Package-level hooks, replaced in tests
var (
	globFn       = filepath.Glob
	accessibleFn = detection.Accessible
	probeFn      = probeDevice
)

type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "spi"
}

// Detect lists configured readers and spidev nodes, then probes them
// unless opts.Mode is Passive
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	candidates := detection.MergeDevices(detection.ConfiguredDevices("spi"), scanNodes())

	var devices []detection.DeviceInfo
	for _, device := range candidates {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if opts.Mode == detection.Passive {
			devices = append(devices, device)
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

// scanNodes returns the spidev nodes the user can open
func scanNodes() []detection.DeviceInfo {
	if runtime.GOOS != "linux" {
		return nil
	}
	matches, err := globFn("/dev/spidev*")
	if err != nil {
		return nil
	}

	var devices []detection.DeviceInfo
	for _, path := range matches {
		if !accessibleFn(path) {
			continue
		}
		devices = append(devices, detection.DeviceInfo{
			Transport:  "spi",
			Path:       path,
			Name:       "SPI device " + filepath.Base(path),
			Confidence: detection.Low,
			Metadata:   map[string]string{"source": "scan"},
		})
	}
	return devices
}

func probeDevice(ctx context.Context, path string, mode detection.Mode) (mfrc522.ChipVersion, bool) {
	t, err := spi.New(path)
	if err != nil {
		return mfrc522.ChipVersion{}, false
	}
	return probe.Chip(ctx, t, mode)
}
