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

package mfrc522

import "fmt"

// ChipVersion identifies the silicon from VersionReg
type ChipVersion struct {
	Name string
	Raw  byte
	// Genuine is false for values only seen on clones
	Genuine bool
}

func (v ChipVersion) String() string {
	return fmt.Sprintf("%s (0x%02X)", v.Name, v.Raw)
}

var chipVersions = map[byte]ChipVersion{
	0x88: {Name: "FM17522", Raw: 0x88, Genuine: false},
	0x90: {Name: "MFRC522 v0.0", Raw: 0x90, Genuine: true},
	0x91: {Name: "MFRC522 v1.0", Raw: 0x91, Genuine: true},
	0x92: {Name: "MFRC522 v2.0", Raw: 0x92, Genuine: true},
	0x12: {Name: "counterfeit chip", Raw: 0x12, Genuine: false},
}

// Version reads VersionReg. 0x00 and 0xFF mean nothing answers on the bus
// and are reported as ErrDeviceNotFound.
func (d *Device) Version() (ChipVersion, error) {
	raw, err := d.readReg(RegVersion)
	if err != nil {
		return ChipVersion{}, transportFailure("version", err)
	}
	if raw == 0x00 || raw == 0xFF {
		return ChipVersion{Raw: raw}, newStatusError("version", StatusError,
			fmt.Errorf("version register reads 0x%02X: %w", raw, ErrDeviceNotFound))
	}
	if v, ok := chipVersions[raw]; ok {
		return v, nil
	}
	debugf("unknown chip version 0x%02X", raw)
	return ChipVersion{Name: "unknown", Raw: raw}, nil
}
