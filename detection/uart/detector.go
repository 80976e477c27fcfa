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

// Package uart detects MFRC522 readers behind USB-serial adapters and
// on-board UARTs. Import it for its side effect of registering the
// detector.
package uart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/detection"
	"github.com/ZaparooProject/go-mfrc522/detection/internal/probe"
	"github.com/ZaparooProject/go-mfrc522/transport/uart"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const probeTimeout = 2 * time.Second

// Package-level hooks, replaced in tests
var (
	detailedPortsFn = enumerator.GetDetailedPortsList
	portsFn         = serial.GetPortsList
	probeFn         = probeDevice
)

// USB-serial bridges found on MFRC522 UART breakout boards
var knownBridges = map[string]string{
	"1A86:7523": "CH340",
	"1A86:55D4": "CH9102",
	"10C4:EA60": "CP210x",
	"0403:6001": "FT232R",
	"0403:6015": "FT231X",
	"067B:2303": "PL2303",
}

type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// serialPort is one enumerated port with what the OS knows about it
type serialPort struct {
	Path    string
	VIDPID  string
	Product string
	Serial  string
	IsUSB   bool
}

// Detect enumerates serial ports, drops blocked and ignored ones, and
// probes the rest. A port answering VersionReg is a reader whatever its
// adapter; in Passive mode only configured ports and known bridges are
// reported.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := enumeratePorts()
	if err != nil {
		return nil, err
	}

	candidates := detection.MergeDevices(detection.ConfiguredDevices("uart"), d.portDevices(ports, opts))

	var devices []detection.DeviceInfo
	for _, device := range candidates {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if included, ok := d.processDevice(ctx, device, opts.Mode); ok {
			devices = append(devices, included)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// processDevice decides whether one candidate is reported
func (*detector) processDevice(
	ctx context.Context, device detection.DeviceInfo, mode detection.Mode,
) (detection.DeviceInfo, bool) {
	if mode == detection.Passive {
		return device, device.Confidence >= detection.Medium
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	version, ok := probeFn(probeCtx, device.Path, mode)
	if !ok {
		// a CH340 that does not answer is just a CH340
		return detection.DeviceInfo{}, false
	}
	probe.Annotate(&device, version)
	return device, true
}

// portDevices converts enumerated ports into candidates
func (*detector) portDevices(ports []serialPort, opts *detection.Options) []detection.DeviceInfo {
	var devices []detection.DeviceInfo
	for _, port := range ports {
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  "uart",
			Path:       port.Path,
			Name:       port.Path,
			Confidence: detection.Low,
			Metadata:   map[string]string{"source": "scan"},
		}
		if port.VIDPID != "" {
			device.Metadata["vidpid"] = port.VIDPID
		}
		if port.Serial != "" {
			device.Metadata["serial"] = port.Serial
		}
		if port.Product != "" {
			device.Metadata["product"] = port.Product
			device.Name = fmt.Sprintf("%s (%s)", port.Product, port.Path)
		}
		if bridge, ok := knownBridges[port.VIDPID]; ok {
			device.Confidence = detection.Medium
			device.Metadata["bridge"] = bridge
		}
		devices = append(devices, device)
	}
	return devices
}

// enumeratePorts lists ports with USB details, falling back to bare
// names where the enumerator is not supported
func enumeratePorts() ([]serialPort, error) {
	details, err := detailedPortsFn()
	if err == nil {
		ports := make([]serialPort, 0, len(details))
		for _, d := range details {
			p := serialPort{Path: d.Name, IsUSB: d.IsUSB}
			if d.IsUSB {
				p.VIDPID = detection.ParseVIDPID(d.VID + ":" + d.PID)
				p.Product = strings.TrimSpace(d.Product)
				p.Serial = d.SerialNumber
			}
			ports = append(ports, p)
		}
		return ports, nil
	}

	mfrc522.Debugf("detailed port list failed, falling back: %v", err)
	names, err := portsFn()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	ports := make([]serialPort, 0, len(names))
	for _, name := range names {
		ports = append(ports, serialPort{Path: name})
	}
	return ports, nil
}

func probeDevice(ctx context.Context, path string, mode detection.Mode) (mfrc522.ChipVersion, bool) {
	t, err := uart.New(path)
	if err != nil {
		return mfrc522.ChipVersion{}, false
	}
	return probe.Chip(ctx, t, mode)
}
