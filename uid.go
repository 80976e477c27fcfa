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
	"bytes"
	"encoding/hex"
	"strings"
)

// UID is the unique identifier of a selected PICC together with the SAK
// of its last cascade level
type UID struct {
	Bytes []byte
	SAK   byte
}

// Size returns the UID length in bytes (4, 7 or 10 for a selected card)
func (u UID) Size() int {
	return len(u.Bytes)
}

// String returns the UID as upper-case hex
func (u UID) String() string {
	return strings.ToUpper(hex.EncodeToString(u.Bytes))
}

// Type classifies the PICC from its SAK
func (u UID) Type() PICCType {
	return PICCTypeFromSAK(u.SAK)
}

// Equal reports whether both UIDs carry the same bytes and SAK
func (u UID) Equal(other UID) bool {
	return u.SAK == other.SAK && bytes.Equal(u.Bytes, other.Bytes)
}

// authBytes returns the four UID bytes that seed MIFARE authentication
func (u UID) authBytes() []byte {
	return u.Bytes[len(u.Bytes)-4:]
}

// PICCType is the card family derived from SAK
type PICCType int

// PICC types
const (
	PICCTypeUnknown PICCType = iota
	PICCTypeISO14443_4
	PICCTypeISO18092
	PICCTypeMIFAREMini
	PICCTypeMIFARE1K
	PICCTypeMIFARE4K
	PICCTypeMIFAREUL
	PICCTypeMIFAREPlus
	PICCTypeTNP3XXX
	PICCTypeNotComplete
)

var piccTypeNames = map[PICCType]string{
	PICCTypeUnknown:     "Unknown type",
	PICCTypeISO14443_4:  "PICC compliant with ISO/IEC 14443-4",
	PICCTypeISO18092:    "PICC compliant with ISO/IEC 18092 (NFC)",
	PICCTypeMIFAREMini:  "MIFARE Mini, 320 bytes",
	PICCTypeMIFARE1K:    "MIFARE 1KB",
	PICCTypeMIFARE4K:    "MIFARE 4KB",
	PICCTypeMIFAREUL:    "MIFARE Ultralight or Ultralight C",
	PICCTypeMIFAREPlus:  "MIFARE Plus",
	PICCTypeTNP3XXX:     "MIFARE TNP3XXX",
	PICCTypeNotComplete: "SAK indicates UID is not complete",
}

func (t PICCType) String() string {
	if name, ok := piccTypeNames[t]; ok {
		return name
	}
	return piccTypeNames[PICCTypeUnknown]
}

// PICCTypeFromSAK maps a SAK byte to a PICCType. Bit 7 is ignored.
func PICCTypeFromSAK(sak byte) PICCType {
	switch sak & 0x7F {
	case 0x04:
		return PICCTypeNotComplete
	case 0x09:
		return PICCTypeMIFAREMini
	case 0x08:
		return PICCTypeMIFARE1K
	case 0x18:
		return PICCTypeMIFARE4K
	case 0x00:
		return PICCTypeMIFAREUL
	case 0x10, 0x11:
		return PICCTypeMIFAREPlus
	case 0x01:
		return PICCTypeTNP3XXX
	case 0x20:
		return PICCTypeISO14443_4
	case 0x40:
		return PICCTypeISO18092
	default:
		return PICCTypeUnknown
	}
}

// IsMIFAREClassic reports whether the card speaks the MIFARE Classic
// command set (authenticate, value blocks)
func (t PICCType) IsMIFAREClassic() bool {
	return t == PICCTypeMIFAREMini || t == PICCTypeMIFARE1K || t == PICCTypeMIFARE4K
}
