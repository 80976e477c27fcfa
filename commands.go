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

// PICC commands (ISO/IEC 14443-3 type A and MIFARE)
const (
	piccCmdREQA    = 0x26 // REQuest command type A, 7 bit frame
	piccCmdWUPA    = 0x52 // Wake-UP command type A, 7 bit frame
	piccCmdCT      = 0x88 // cascade tag, used during anti collision
	piccCmdSelCL1  = 0x93 // anti collision/select, cascade level 1
	piccCmdSelCL2  = 0x95 // anti collision/select, cascade level 2
	piccCmdSelCL3  = 0x97 // anti collision/select, cascade level 3
	piccCmdHLTA    = 0x50 // HaLT command type A
	piccCmdMFAuthA = 0x60 // authentication with key A
	piccCmdMFAuthB = 0x61 // authentication with key B
	piccCmdMFRead  = 0x30 // reads one 16 byte block from the authenticated sector
	piccCmdMFWrite = 0xA0 // writes one 16 byte block to the authenticated sector
	piccCmdMFDec   = 0xC0 // decrements the contents of a block and stores the result in the internal data register
	piccCmdMFInc   = 0xC1 // increments the contents of a block and stores the result in the internal data register
	piccCmdMFRest  = 0xC2 // reads the contents of a block into the internal data register
	piccCmdMFXfer  = 0xB0 // writes the contents of the internal data register to a block
	piccCmdULWrite = 0xA2 // writes one 4 byte page to a MIFARE Ultralight
)

// MIFARE acknowledge nibble. Any other 4-bit value is a NAK.
const mifareACK = 0x0A

// NVB (number of valid bits) byte sent with a complete SELECT frame.
const nvbSelect = 0x70

// sakCascadeBit is set in SAK when the UID is not complete yet.
const sakCascadeBit = 0x04

// MIFARE memory structure
const (
	MIFAREBlockSize      = 16
	MIFAREKeySize        = 6
	UltralightPageSize   = 4
	mifareValueSize      = 4
	mifareMaxSendPayload = 16
)
