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

// KeyType selects which sector key MIFARE authentication uses
type KeyType byte

// Key types, valued as their PICC command bytes
const (
	KeyA KeyType = piccCmdMFAuthA
	KeyB KeyType = piccCmdMFAuthB
)

func (k KeyType) String() string {
	switch k {
	case KeyA:
		return "A"
	case KeyB:
		return "B"
	default:
		return fmt.Sprintf("KeyType(0x%02X)", byte(k))
	}
}

// Key is a 6-byte MIFARE Classic sector key
type Key [MIFAREKeySize]byte

// DefaultKey is the transport key cards ship with
var DefaultKey = Key{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// KeyFromBytes converts b into a Key. It fails with StatusInvalid unless b
// is exactly six bytes long.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != MIFAREKeySize {
		return k, newStatusError("key", StatusInvalid, fmt.Errorf("%d bytes: %w", len(b), ErrInvalidKey))
	}
	copy(k[:], b)
	return k, nil
}

// Authenticate starts an encrypted MIFARE Classic session for the sector
// holding block. The last four bytes of uid seed the exchange. A wrong key
// usually ends in StatusTimeout because the card stops answering.
//
// While the session is active all further frames are encrypted by the
// chip and Select is refused; call StopCrypto1 when done with the card.
func (d *Device) Authenticate(keyType KeyType, block byte, key Key, uid UID) error {
	const op = "authenticate"

	if keyType != KeyA && keyType != KeyB {
		return newStatusError(op, StatusInvalid, fmt.Errorf("key type 0x%02X: %w", byte(keyType), ErrInvalidParameter))
	}
	if len(uid.Bytes) < 4 {
		return newStatusError(op, StatusInvalid, ErrUIDTooShort)
	}

	send := make([]byte, 0, 12)
	send = append(send, byte(keyType), block)
	send = append(send, key[:]...)
	send = append(send, uid.authBytes()...)

	if _, err := d.communicate(op, PCDMFAuthent, irqIdle, send, frameOptions{}); err != nil {
		debugf("authenticate: key %s block %d failed: %v", keyType, block, err)
		return err
	}

	status2, err := d.readReg(RegStatus2)
	if err != nil {
		return transportFailure(op, err)
	}
	if status2&status2MFCrypto1On == 0 {
		debugf("authenticate: key %s block %d, Crypto1 not enabled", keyType, block)
		return newStatusError(op, StatusError, errors.New("crypto1 unit not enabled after authentication"))
	}

	d.authenticated = true
	return nil
}

// StopCrypto1 leaves the encrypted session. It is safe to call when no
// session is active.
func (d *Device) StopCrypto1() error {
	d.authenticated = false
	if err := d.clearBits(RegStatus2, status2MFCrypto1On); err != nil {
		return transportFailure("stop crypto1", err)
	}
	return nil
}

// IsAuthenticated reports whether an encrypted session is active
func (d *Device) IsAuthenticated() bool {
	return d.authenticated
}
