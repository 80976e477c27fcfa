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

package polling

import "time"

// RecoveryConfig controls how a Session brings its reader back after the
// host slept or the link failed.
type RecoveryConfig struct {
	// SleepGap is how far a poll may run late before the host is assumed
	// to have been suspended. The chip loses its timer and antenna setup
	// across a USB or power cycle, so a late poll triggers recovery.
	SleepGap time.Duration
	// Backoff is the pause between recovery attempts
	Backoff time.Duration
	// Attempts bounds the recovery attempts before Run gives up
	Attempts int
	// SleepDetection turns the late-poll check on
	SleepDetection bool
}

// DefaultRecoveryConfig returns the recovery settings used by DefaultConfig
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		SleepGap:       2 * time.Second,
		Backoff:        500 * time.Millisecond,
		Attempts:       3,
		SleepDetection: true,
	}
}

// Slept reports whether a poll that came elapsed after the previous one,
// on a schedule of interval, means the host was asleep in between.
func (rc RecoveryConfig) Slept(elapsed, interval time.Duration) bool {
	return rc.SleepDetection && elapsed > interval+rc.SleepGap
}

// Config holds polling configuration options
type Config struct {
	PollInterval time.Duration
	// IdlePollInterval replaces PollInterval once no card has been seen
	// for IdleAfter. Zero keeps the poll rate constant.
	IdlePollInterval time.Duration
	IdleAfter        time.Duration
	// CardRemovalTimeout is how long a card may stay silent before it is
	// reported removed. A single missed WUPA is common at the edge of the
	// field.
	CardRemovalTimeout time.Duration
	Recovery           RecoveryConfig
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:       250 * time.Millisecond,
		IdlePollInterval:   500 * time.Millisecond,
		IdleAfter:          5 * time.Second,
		CardRemovalTimeout: 600 * time.Millisecond,
		Recovery:           DefaultRecoveryConfig(),
	}
}
