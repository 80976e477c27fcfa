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

// Package detection finds MFRC522 readers attached over SPI, I2C or UART.
//
// Transport detectors live in the spi, i2c and uart subpackages and
// register themselves on import:
//
//	import (
//		"github.com/ZaparooProject/go-mfrc522/detection"
//		_ "github.com/ZaparooProject/go-mfrc522/detection/spi"
//	)
//
//	devices, err := detection.DetectAll(ctx, &opts)
package detection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
)

// Mode represents the level of invasiveness for device detection
type Mode int

const (
	// Passive mode only lists candidate paths, nothing is opened
	Passive Mode = iota
	// Safe mode opens each candidate and reads VersionReg
	Safe
	// Full mode runs the complete chip bring-up
	Full
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a mode name as accepted on the command line
func ParseMode(s string) (Mode, error) {
	switch s {
	case "passive":
		return Passive, nil
	case "safe", "":
		return Safe, nil
	case "full":
		return Full, nil
	default:
		return Safe, fmt.Errorf("unknown detection mode %q", s)
	}
}

// Confidence represents the confidence level of device detection
type Confidence int

const (
	// Low confidence: the path exists, nothing answered yet
	Low Confidence = iota
	// Medium confidence: configured explicitly or the adapter is a known bridge
	Medium
	// High confidence: VersionReg identified an MFRC522 or clone
	High
)

// DeviceInfo represents a detected MFRC522 reader
type DeviceInfo struct {
	// Additional metadata (vidpid, version, address, source)
	Metadata map[string]string
	// Transport type: "spi", "i2c" or "uart"
	Transport string
	// Connection path (e.g., "/dev/spidev0.0", "/dev/i2c-1:0x28", "/dev/ttyUSB0")
	Path string
	// Human-readable device name
	Name string
	// Detection confidence level
	Confidence Confidence
}

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures the detection behavior
type Options struct {
	// USB VID:PID pairs to skip (e.g., ["1234:5678"])
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["/dev/ttyUSB0", "COM2"])
	IgnorePaths []string
	// Which transports to check (empty = all)
	Transports []string
	// Cache TTL duration
	CacheTTL time.Duration
	// Maximum time to wait for detection
	Timeout time.Duration
	// Detection invasiveness level
	Mode Mode
	// Enable result caching
	EnableCache bool
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Mode:        Safe,
		Timeout:     5 * time.Second,
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector interface for transport-specific device detection
type Detector interface {
	// Detect searches for devices using the given options
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport returns the transport type this detector handles
	Transport() string
}

// Errors
var (
	// ErrNoDevicesFound indicates no MFRC522 readers were detected
	ErrNoDevicesFound = errors.New("no MFRC522 devices found")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrUnsupportedPlatform indicates the platform doesn't support this detection method
	ErrUnsupportedPlatform = errors.New("platform not supported")
)

var (
	registry   []Detector
	registryMu syncutil.Mutex
)

// RegisterDetector adds a detector to the registry. The transport
// subpackages call it from init.
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

// getDetectors returns the registered detectors for the named transports,
// in registration order. No names selects all of them.
func getDetectors(transports []string) []Detector {
	registryMu.Lock()
	defer registryMu.Unlock()

	var out []Detector
	for _, d := range registry {
		if len(transports) == 0 || slices.ContainsFunc(transports, func(t string) bool {
			return strings.EqualFold(t, d.Transport())
		}) {
			out = append(out, d)
		}
	}
	return out
}

// DetectAll runs every registered detector in parallel and merges what
// they find. Devices are returned even when some detectors failed.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	return detectWith(ctx, getDetectors(opts.Transports), opts)
}

// outcome is what one detector produced
type outcome struct {
	err     error
	devices []DeviceInfo
}

func detectWith(ctx context.Context, detectors []Detector, opts *Options) ([]DeviceInfo, error) {
	if len(detectors) == 0 {
		return nil, errors.New("no detectors available for specified transports")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// each goroutine owns one slot, so the merged list keeps registry order
	outcomes := make([]outcome, len(detectors))
	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = detectOne(ctx, d, opts)
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return nil, ErrDetectionTimeout
	}
	return merge(outcomes)
}

// detectOne runs d, or answers from the cache when that is allowed
func detectOne(ctx context.Context, d Detector, opts *Options) outcome {
	transport := d.Transport()
	if opts.EnableCache {
		if cached, ok := getCached(transport, opts.CacheTTL); ok {
			// the cached list may predate this call's blocklist
			return outcome{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	switch {
	case errors.Is(err, ErrNoDevicesFound):
		err = nil
	case err != nil:
		return outcome{err: fmt.Errorf("%s: %w", transport, err)}
	}

	if opts.EnableCache {
		if len(devices) == 0 {
			// an unplugged reader must not be reported until the TTL runs out
			clearCacheForTransport(transport)
		} else {
			setCached(transport, devices)
		}
	}
	return outcome{devices: devices}
}

func merge(outcomes []outcome) ([]DeviceInfo, error) {
	var (
		devices []DeviceInfo
		errs    []error
	)
	for _, o := range outcomes {
		devices = append(devices, o.devices...)
		if o.err != nil {
			errs = append(errs, o.err)
		}
	}

	switch {
	case len(devices) > 0:
		return devices, nil
	case len(errs) > 0:
		return nil, errors.Join(errs...)
	default:
		return nil, ErrNoDevicesFound
	}
}

// filterDevices drops devices on an ignored path or with a blocked VID:PID
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}

	return slices.DeleteFunc(slices.Clone(devices), func(d DeviceInfo) bool {
		return IsPathIgnored(d.Path, opts.IgnorePaths) || IsBlocked(d.Metadata["vidpid"], opts.Blocklist)
	})
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	clearCache()
}

// ClearDetectionCacheForTransport removes cached results for a specific transport
func ClearDetectionCacheForTransport(transport string) {
	clearCacheForTransport(transport)
}
