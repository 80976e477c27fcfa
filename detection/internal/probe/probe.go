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

// Package probe identifies an MFRC522 behind an open transport.
package probe

import (
	"context"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/detection"
)

// Chip checks that t leads to an MFRC522 and closes t afterwards. Safe
// mode only reads VersionReg; Full mode also runs the chip bring-up.
// Passive mode never reaches the chip and reports false.
//
// A probe makes exactly one attempt. Retrying register writes against a
// device that is not a reader does it no good.
func Chip(ctx context.Context, t mfrc522.Transport, mode detection.Mode) (mfrc522.ChipVersion, bool) {
	defer func() { _ = t.Close() }()

	if mode == detection.Passive {
		return mfrc522.ChipVersion{}, false
	}

	device, err := mfrc522.New(t, mfrc522.WithMaxRetries(0))
	if err != nil {
		return mfrc522.ChipVersion{}, false
	}

	version, err := device.Version()
	if err != nil {
		mfrc522.Debugf("probe %s: %v", t.Type(), err)
		return mfrc522.ChipVersion{}, false
	}

	if mode == detection.Full {
		if err := device.InitContext(ctx); err != nil {
			mfrc522.Debugf("probe %s: init: %v", t.Type(), err)
			return version, false
		}
	}
	return version, true
}

// Annotate raises d to High confidence and records the chip version.
// Names from devices.json are kept, any other name becomes the chip's.
func Annotate(d *detection.DeviceInfo, v mfrc522.ChipVersion) {
	d.Confidence = detection.High
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata["version"] = v.String()
	if d.Metadata["source"] != "config" || d.Name == "" {
		d.Name = v.Name
	}
}
