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
	"errors"
	"fmt"
)

// selectState is the position of one cascade level in the
// anticollision/select handshake
type selectState int

const (
	// stateRequestingBits sends an ANTICOLLISION frame with the known bits
	stateRequestingBits selectState = iota
	// stateColliding resolves the collision reported by the last frame
	stateColliding
	// stateSelecting sends SELECT with all 32 bits of the level
	stateSelecting
	// stateComplete holds a SAK for the level
	stateComplete
)

func (s selectState) String() string {
	switch s {
	case stateRequestingBits:
		return "requesting bits"
	case stateColliding:
		return "colliding"
	case stateSelecting:
		return "selecting"
	case stateComplete:
		return "complete"
	default:
		return fmt.Sprintf("selectState(%d)", int(s))
	}
}

// maxAnticollisionFrames bounds the ANTICOLLISION frames sent per cascade
// level. Every collision fixes at least one more bit, so 32 frames always
// suffice for a well-behaved field.
const maxAnticollisionFrames = 32

// maxUIDBits is the largest number of known UID bits Select accepts
const maxUIDBits = 80

// RequestA sends REQA and returns the ATQA. Only cards in the Idle state
// answer. A collision between answering cards is returned as
// StatusCollision.
func (d *Device) RequestA() ([2]byte, error) {
	return d.requestOrWakeup("request A", piccCmdREQA)
}

// WakeupA sends WUPA and returns the ATQA. Cards in Idle and Halt answer.
func (d *Device) WakeupA() ([2]byte, error) {
	return d.requestOrWakeup("wakeup A", piccCmdWUPA)
}

func (d *Device) requestOrWakeup(op string, cmd byte) ([2]byte, error) {
	var atqa [2]byte

	if err := d.clearBits(RegColl, collValuesAfterColl); err != nil {
		return atqa, transportFailure(op, err)
	}
	// short frame: 7 bits of the command byte
	res, err := d.communicate(op, PCDTransceive, irqRx|irqIdle, []byte{cmd}, frameOptions{validBits: 7})
	if err != nil {
		return atqa, err
	}
	if len(res.Data) != 2 || res.ValidBits != 0 {
		return atqa, newStatusError(op, StatusError,
			fmt.Errorf("ATQA of %d bytes with %d valid bits: %w", len(res.Data), res.ValidBits, ErrInvalidResponse))
	}
	copy(atqa[:], res.Data)
	return atqa, nil
}

// IsNewCardPresent reports whether a card in the Idle state is in the
// field. Halted cards are not reported, use WakeupA for them. A collision
// counts as present. The returned error is non-nil only when the reader
// itself failed; silence in the field is (false, nil).
func (d *Device) IsNewCardPresent() (bool, error) {
	// back to 106 kBd and the modulation width ISO 14443-A expects
	for _, w := range []RegisterWrite{
		{Reg: RegTxMode, Value: 0x00},
		{Reg: RegRxMode, Value: 0x00},
		{Reg: RegModWidth, Value: 0x26},
	} {
		if err := d.writeReg(w.Reg, w.Value); err != nil {
			return false, transportFailure("card present", err)
		}
	}

	_, err := d.RequestA()
	switch Status(err) {
	case StatusOK, StatusCollision:
		return true, nil
	case StatusTimeout:
		return false, nil
	default:
		var te *TransportError
		if errors.As(err, &te) || errors.Is(err, ErrTransportClosed) {
			return false, err
		}
		debugf("card present: ignoring %v", err)
		return false, nil
	}
}

// ReadCardSerial selects a card without any known UID bits. Call it after
// IsNewCardPresent, RequestA or WakeupA.
func (d *Device) ReadCardSerial() (UID, error) {
	return d.Select(0, UID{})
}

// Select runs the anticollision and select loop over all cascade levels
// and returns the UID and SAK of exactly one card. validBits is the number
// of leading bits of known.Bytes to use as a prefix, which steers
// selection among several cards; known.Bytes must then hold the full UID
// size (4, 7 or 10) so the cascade tags can be placed.
//
// When several cards answer, every collision is resolved by taking the
// branch with the colliding bit set to 1, so for a fixed field and prefix
// the selected card is deterministic.
func (d *Device) Select(validBits byte, known UID) (UID, error) {
	const op = "select"

	if d.authenticated {
		return UID{}, newStatusError(op, StatusInvalid, ErrSessionActive)
	}
	if validBits > maxUIDBits {
		return UID{}, newStatusError(op, StatusInvalid,
			fmt.Errorf("%d known bits exceeds %d: %w", validBits, maxUIDBits, ErrInvalidParameter))
	}
	if int(validBits) > 8*len(known.Bytes) {
		return UID{}, newStatusError(op, StatusInvalid,
			fmt.Errorf("%d known bits but only %d UID bytes: %w", validBits, len(known.Bytes), ErrInvalidParameter))
	}

	if err := d.clearBits(RegColl, collValuesAfterColl); err != nil {
		return UID{}, transportFailure(op, err)
	}

	uid := make([]byte, 0, 10)
	for level := 1; ; level++ {
		sel, err := newCascadeLevel(level, validBits, known)
		if err != nil {
			return UID{}, newStatusError(op, StatusInternalError, err)
		}

		sak, err := d.runCascadeLevel(op, sel)
		if err != nil {
			return UID{}, err
		}

		if sak&sakCascadeBit == 0 {
			uid = append(uid, sel.buf[2:6]...)
			debugf("select: level %d complete, UID %X SAK 0x%02X", level, uid, sak)
			return UID{Bytes: uid, SAK: sak}, nil
		}
		if sel.buf[2] != piccCmdCT {
			return UID{}, newStatusError(op, StatusError,
				fmt.Errorf("SAK 0x%02X asks for level %d but UID starts with 0x%02X", sak, level+1, sel.buf[2]))
		}
		uid = append(uid, sel.buf[3:6]...)
		debugf("select: level %d cascades, partial UID %X", level, uid)
	}
}

// cascadeLevel holds the command buffer of one level:
// SEL, NVB, 4 UID bytes (or CT + 3), BCC, CRC_A
type cascadeLevel struct {
	buf   [9]byte
	level int
	known int // bits of buf[2:6] that are known
}

func newCascadeLevel(level int, validBits byte, known UID) (*cascadeLevel, error) {
	c := &cascadeLevel{level: level}

	var uidIndex int
	var useCT bool
	size := len(known.Bytes)
	switch level {
	case 1:
		c.buf[0] = piccCmdSelCL1
		uidIndex = 0
		useCT = validBits != 0 && size > 4
	case 2:
		c.buf[0] = piccCmdSelCL2
		uidIndex = 3
		useCT = validBits != 0 && size > 7
	case 3:
		c.buf[0] = piccCmdSelCL3
		uidIndex = 6
	default:
		return nil, fmt.Errorf("cascade level %d", level)
	}

	knownBits := max(int(validBits)-8*uidIndex, 0)

	idx := 2
	maxBytes := 4
	if useCT {
		c.buf[idx] = piccCmdCT
		idx++
		maxBytes = 3
	}
	n := min((knownBits+7)/8, maxBytes, max(size-uidIndex, 0))
	if n > 0 {
		copy(c.buf[idx:idx+n], known.Bytes[uidIndex:uidIndex+n])
	}
	if useCT {
		knownBits += 8
	}
	c.known = min(knownBits, 32)
	return c, nil
}

// runCascadeLevel drives one level through its states and returns the SAK
func (d *Device) runCascadeLevel(op string, c *cascadeLevel) (byte, error) {
	state := stateRequestingBits
	if c.known == 32 {
		state = stateSelecting
	}

	var sak byte
	frames := 0
	for state != stateComplete {
		switch state {
		case stateRequestingBits:
			if frames == maxAnticollisionFrames {
				return 0, newStatusError(op, StatusInternalError,
					fmt.Errorf("level %d unresolved after %d frames", c.level, frames))
			}
			frames++

			collided, err := d.anticollisionFrame(op, c)
			switch {
			case err != nil:
				return 0, err
			case collided:
				state = stateColliding
			default:
				// the answer completed all 32 bits of the level
				c.known = 32
				state = stateSelecting
			}

		case stateColliding:
			if err := d.resolveCollision(op, c); err != nil {
				return 0, err
			}
			state = stateRequestingBits
			if c.known == 32 {
				state = stateSelecting
			}

		case stateSelecting:
			var err error
			sak, err = d.selectFrame(op, c)
			if err != nil {
				return 0, err
			}
			state = stateComplete

		case stateComplete:
		}
	}
	return sak, nil
}

// anticollisionFrame transmits SEL, NVB and the known bits, then merges the
// answer into the buffer. It reports whether the answer collided.
func (d *Device) anticollisionFrame(op string, c *cascadeLevel) (bool, error) {
	whole := c.known / 8
	lastBits := byte(c.known % 8)
	idx := 2 + whole

	// NVB: bytes in the frame (upper nibble) and extra bits (lower)
	c.buf[1] = byte(idx<<4) | lastBits
	sendLen := idx
	if lastBits != 0 {
		sendLen++
	}

	res, err := d.communicate(op, PCDTransceive, irqRx|irqIdle, c.buf[:sendLen], frameOptions{
		validBits: lastBits,
		rxAlign:   lastBits,
		maxLen:    len(c.buf) - idx,
	})
	collided := Status(err) == StatusCollision
	if err != nil && !collided {
		return false, err
	}

	if len(res.Data) > 0 {
		keep := ^(byte(0xFF) << lastBits)
		c.buf[idx] = c.buf[idx]&keep | res.Data[0]
		copy(c.buf[idx+1:], res.Data[1:])
	}
	if !collided {
		if bcc := c.buf[2] ^ c.buf[3] ^ c.buf[4] ^ c.buf[5]; c.buf[6] != bcc {
			return false, newStatusError(op, StatusError,
				fmt.Errorf("level %d BCC 0x%02X, want 0x%02X", c.level, c.buf[6], bcc))
		}
	}
	return collided, nil
}

// resolveCollision reads the collision position and fixes the colliding
// bit to 1
func (d *Device) resolveCollision(op string, c *cascadeLevel) error {
	coll, err := d.readReg(RegColl)
	if err != nil {
		return transportFailure(op, err)
	}
	if coll&collPosNotValid != 0 {
		return newStatusError(op, StatusCollision, ErrCollPosInvalid)
	}

	pos := int(coll & collPosMask)
	if pos == 0 {
		pos = 32
	}
	if pos <= c.known {
		return newStatusError(op, StatusInternalError,
			fmt.Errorf("collision at bit %d with %d bits already known", pos, c.known))
	}

	debugf("select: level %d collision at bit %d", c.level, pos)
	c.known = pos
	c.buf[2+(pos-1)/8] |= 1 << ((pos - 1) % 8)
	return nil
}

// selectFrame sends SELECT for the completed level and returns the SAK
func (d *Device) selectFrame(op string, c *cascadeLevel) (byte, error) {
	c.buf[1] = nvbSelect
	c.buf[6] = c.buf[2] ^ c.buf[3] ^ c.buf[4] ^ c.buf[5]

	crc, err := d.CalculateCRC(c.buf[:7])
	if err != nil {
		return 0, err
	}
	c.buf[7], c.buf[8] = crc[0], crc[1]

	res, err := d.communicate(op, PCDTransceive, irqRx|irqIdle, c.buf[:], frameOptions{maxLen: 3})
	if err != nil {
		return 0, err
	}
	if len(res.Data) != 3 || res.ValidBits != 0 {
		return 0, newStatusError(op, StatusError,
			fmt.Errorf("SAK of %d bytes with %d valid bits: %w", len(res.Data), res.ValidBits, ErrInvalidResponse))
	}
	if err := d.verifyCRC(op, res); err != nil {
		return 0, err
	}
	return res.Data[0], nil
}

// HaltA puts the selected card into the Halt state. A card acknowledging
// HLTA violates ISO/IEC 14443-3, so silence is success and any answer is
// StatusError.
func (d *Device) HaltA() error {
	const op = "halt A"

	send, err := d.appendCRC([]byte{piccCmdHLTA, 0x00})
	if err != nil {
		return err
	}
	_, err = d.communicate(op, PCDTransceive, irqRx|irqIdle, send, frameOptions{})
	switch Status(err) {
	case StatusTimeout:
		debugln("halt A: card halted")
		return nil
	case StatusOK:
		return newStatusError(op, StatusError, errors.New("card answered HLTA"))
	default:
		return err
	}
}
