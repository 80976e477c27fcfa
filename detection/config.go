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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Environment variables naming a reader explicitly. The I2C value may
// carry an address suffix ("/dev/i2c-1:0x28").
const (
	EnvSPIDevice  = "MFRC522_SPI_DEVICE"
	EnvI2CDevice  = "MFRC522_I2C_DEVICE"
	EnvUARTDevice = "MFRC522_UART_DEVICE"
	// EnvConfigFile overrides the location of devices.json
	EnvConfigFile = "MFRC522_CONFIG"
)

var envByTransport = map[string]string{
	"spi":  EnvSPIDevice,
	"i2c":  EnvI2CDevice,
	"uart": EnvUARTDevice,
}

// ConfiguredDevice is one entry of devices.json
type ConfiguredDevice struct {
	Metadata  map[string]string `json:"metadata,omitempty"`
	Transport string            `json:"transport"`
	Path      string            `json:"path"`
	Name      string            `json:"name,omitempty"`
}

type configFile struct {
	Devices []ConfiguredDevice `json:"devices"`
}

// ConfigFilePath returns where devices.json is looked up: $MFRC522_CONFIG
// or <user config dir>/mfrc522/devices.json.
func ConfigFilePath() (string, error) {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "mfrc522", "devices.json"), nil
}

// LoadConfigFile reads device entries from path. A missing file is not
// an error. Both {"devices": [...]} and a bare array are accepted.
func LoadConfigFile(path string) ([]ConfiguredDevice, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user's own config
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var wrapped configFile
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Devices != nil {
		return wrapped.Devices, nil
	}
	var list []ConfiguredDevice
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return list, nil
}

// ConfiguredDevices returns the readers named for transport by the
// environment and devices.json, environment first. They come with
// Medium confidence: somebody said a reader is there.
func ConfiguredDevices(transport string) []DeviceInfo {
	var devices []DeviceInfo
	seen := make(map[string]bool)
	add := func(d DeviceInfo) {
		if d.Path == "" || seen[d.Path] {
			return
		}
		seen[d.Path] = true
		devices = append(devices, d)
	}

	if env, ok := envByTransport[transport]; ok {
		if p := os.Getenv(env); p != "" {
			add(DeviceInfo{
				Transport:  transport,
				Path:       p,
				Name:       fmt.Sprintf("%s reader from %s", transport, env),
				Confidence: Medium,
				Metadata:   map[string]string{"source": "env"},
			})
		}
	}

	path, err := ConfigFilePath()
	if err != nil {
		return devices
	}
	entries, err := LoadConfigFile(path)
	if err != nil {
		return devices
	}
	for _, e := range entries {
		if e.Transport != transport {
			continue
		}
		meta := make(map[string]string, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			meta[k] = v
		}
		meta["source"] = "config"
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("%s reader at %s", transport, e.Path)
		}
		add(DeviceInfo{
			Transport:  transport,
			Path:       e.Path,
			Name:       name,
			Confidence: Medium,
			Metadata:   meta,
		})
	}
	return devices
}

// MergeDevices appends found to configured, skipping paths already
// present
func MergeDevices(configured, found []DeviceInfo) []DeviceInfo {
	seen := make(map[string]bool, len(configured))
	out := make([]DeviceInfo, 0, len(configured)+len(found))
	for _, d := range configured {
		seen[d.Path] = true
		out = append(out, d)
	}
	for _, d := range found {
		if !seen[d.Path] {
			seen[d.Path] = true
			out = append(out, d)
		}
	}
	return out
}
