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

import (
	"fmt"
	"time"
)

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithRetryConfig sets the retry configuration for the device
func WithRetryConfig(config *RetryConfig) Option {
	return func(d *Device) error {
		d.config.RetryConfig = config
		return nil
	}
}

// WithMaxRetries sets the maximum number of retries for InitContext
func WithMaxRetries(maxAttempts int) Option {
	return func(d *Device) error {
		if d.config.RetryConfig == nil {
			d.config.RetryConfig = DefaultRetryConfig()
		}
		d.config.RetryConfig.MaxAttempts = maxAttempts
		return nil
	}
}

// WithCRCTimeout sets the bounded wait for the CRC coprocessor
func WithCRCTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("CRC timeout must be positive, got %v", timeout)
		}
		d.config.CRCTimeout = timeout
		return nil
	}
}

// WithCommandTimeout sets the bounded wait for transceive and
// authentication commands
func WithCommandTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("command timeout must be positive, got %v", timeout)
		}
		d.config.CommandTimeout = timeout
		return nil
	}
}

// WithResetTimeout sets the wait for the chip to leave power-down
func WithResetTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("reset timeout must be positive, got %v", timeout)
		}
		d.config.ResetTimeout = timeout
		return nil
	}
}

// WithCRCPreset selects the CRC_A preset. Only the four presets the chip
// can be programmed with are accepted.
func WithCRCPreset(preset uint16) Option {
	return func(d *Device) error {
		if _, err := crcPresetBits(preset); err != nil {
			return err
		}
		d.config.CRCPreset = preset
		return nil
	}
}

// WithAntennaGain sets the receiver gain applied by Init
func WithAntennaGain(gain AntennaGain) Option {
	return func(d *Device) error {
		if byte(gain)&^rfCfgRxGainMask != 0 {
			return fmt.Errorf("antenna gain 0x%02X: %w", byte(gain), ErrInvalidParameter)
		}
		d.config.AntennaGain = gain
		return nil
	}
}
