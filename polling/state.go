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

import (
	"fmt"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
)

// CardDetectionState represents the finite state machine for card detection
type CardDetectionState int

const (
	// StateIdle: no card in the field
	StateIdle CardDetectionState = iota
	// StateCardPresent: a card answered a recent poll
	StateCardPresent
	// StateBusy: callbacks or a queued request hold the card
	StateBusy
)

func (s CardDetectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCardPresent:
		return "card present"
	case StateBusy:
		return "busy"
	default:
		return fmt.Sprintf("CardDetectionState(%d)", int(s))
	}
}

// CardState tracks the state of a card on a reader
type CardState struct {
	LastSeenTime   time.Time
	UID            mfrc522.UID
	Type           mfrc522.PICCType
	DetectionState CardDetectionState
	Present        bool
}

// TransitionToBusy marks the card as held. A busy card is never expired.
func (cs *CardState) TransitionToBusy() {
	cs.DetectionState = StateBusy
}

// TransitionToPresent records a sighting of uid at now
func (cs *CardState) TransitionToPresent(uid mfrc522.UID, now time.Time) {
	cs.DetectionState = StateCardPresent
	cs.Present = true
	cs.UID = mfrc522.UID{Bytes: append([]byte(nil), uid.Bytes...), SAK: uid.SAK}
	cs.Type = uid.Type()
	cs.LastSeenTime = now
}

// TransitionToIdle resets to idle state
func (cs *CardState) TransitionToIdle() {
	cs.DetectionState = StateIdle
	cs.Present = false
	cs.UID = mfrc522.UID{}
	cs.Type = mfrc522.PICCTypeUnknown
	cs.LastSeenTime = time.Time{}
}

// Expired reports whether a present card has been silent for longer than
// timeout
func (cs *CardState) Expired(now time.Time, timeout time.Duration) bool {
	if !cs.Present || cs.DetectionState == StateBusy {
		return false
	}
	return now.Sub(cs.LastSeenTime) > timeout
}
