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
	"encoding/binary"
	"fmt"
)

// MIFARE Classic layout: sectors 0-31 have 4 blocks, sectors 32-39 (4K
// only) have 16. The last block of every sector is its trailer.
const (
	mifareSmallSectorBlocks = 4
	mifareLargeSectorBlocks = 16
	mifareSmallSectors      = 32
)

// SectorOfBlock returns the sector number holding block
func SectorOfBlock(block byte) int {
	if int(block) < mifareSmallSectors*mifareSmallSectorBlocks {
		return int(block) / mifareSmallSectorBlocks
	}
	rest := int(block) - mifareSmallSectors*mifareSmallSectorBlocks
	return mifareSmallSectors + rest/mifareLargeSectorBlocks
}

// SectorTrailer returns the trailer block of the sector holding block
func SectorTrailer(block byte) byte {
	if int(block) < mifareSmallSectors*mifareSmallSectorBlocks {
		return block | (mifareSmallSectorBlocks - 1)
	}
	return block | (mifareLargeSectorBlocks - 1)
}

// IsSectorTrailer reports whether block holds keys and access bits
func IsSectorTrailer(block byte) bool {
	return SectorTrailer(block) == block
}

// MIFARERead reads one 16 byte block (MIFARE Classic) or four 4 byte
// pages (Ultralight) starting at block. The card's CRC_A is verified and
// stripped.
func (d *Device) MIFARERead(block byte) ([]byte, error) {
	const op = "MIFARE read"

	send, err := d.appendCRC([]byte{piccCmdMFRead, block})
	if err != nil {
		return nil, err
	}
	res, err := d.communicate(op, PCDTransceive, irqRx|irqIdle, send, frameOptions{
		checkCRC: true,
		maxLen:   MIFAREBlockSize + 2,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Data) != MIFAREBlockSize+2 {
		return nil, newStatusError(op, StatusError,
			fmt.Errorf("block %d: %d bytes received: %w", block, len(res.Data), ErrInvalidResponse))
	}
	return res.Data[:MIFAREBlockSize], nil
}

// MIFAREWrite writes one 16 byte block. The sector must be authenticated
// with a key that grants write access.
func (d *Device) MIFAREWrite(block byte, data []byte) error {
	const op = "MIFARE write"

	if len(data) != MIFAREBlockSize {
		return newStatusError(op, StatusInvalid,
			fmt.Errorf("%d bytes, want %d: %w", len(data), MIFAREBlockSize, ErrInvalidParameter))
	}
	if err := d.mifareTransceive(op, []byte{piccCmdMFWrite, block}, false); err != nil {
		return err
	}
	return d.mifareTransceive(op, data, false)
}

// UltralightWrite writes one 4 byte page of a MIFARE Ultralight or NTAG
func (d *Device) UltralightWrite(page byte, data []byte) error {
	const op = "Ultralight write"

	if len(data) != UltralightPageSize {
		return newStatusError(op, StatusInvalid,
			fmt.Errorf("%d bytes, want %d: %w", len(data), UltralightPageSize, ErrInvalidParameter))
	}
	send := make([]byte, 0, 2+UltralightPageSize)
	send = append(send, piccCmdULWrite, page)
	send = append(send, data...)
	return d.mifareTransceive(op, send, false)
}

// MIFAREDecrement subtracts delta from the value block and keeps the
// result in the card's transfer buffer. Use MIFARETransfer to store it.
func (d *Device) MIFAREDecrement(block byte, delta int32) error {
	return d.mifareTwoStep("MIFARE decrement", piccCmdMFDec, block, delta)
}

// MIFAREIncrement adds delta to the value block and keeps the result in
// the card's transfer buffer. Use MIFARETransfer to store it.
func (d *Device) MIFAREIncrement(block byte, delta int32) error {
	return d.mifareTwoStep("MIFARE increment", piccCmdMFInc, block, delta)
}

// MIFARERestore copies the value block into the card's transfer buffer.
// Combined with MIFARETransfer it copies a value to another block.
func (d *Device) MIFARERestore(block byte) error {
	// the command takes a dummy operand
	return d.mifareTwoStep("MIFARE restore", piccCmdMFRest, block, 0)
}

// MIFARETransfer writes the card's transfer buffer to block
func (d *Device) MIFARETransfer(block byte) error {
	return d.mifareTransceive("MIFARE transfer", []byte{piccCmdMFXfer, block}, false)
}

// mifareTwoStep sends cmd and block, then the 4 byte operand. The card
// does not acknowledge the operand, so a timeout there is success.
func (d *Device) mifareTwoStep(op string, cmd, block byte, operand int32) error {
	if err := d.mifareTransceive(op, []byte{cmd, block}, false); err != nil {
		return err
	}
	var value [mifareValueSize]byte
	binary.LittleEndian.PutUint32(value[:], uint32(operand))
	return d.mifareTransceive(op, value[:], true)
}

// MIFAREGetValue reads a value block and returns its value after checking
// the redundant copies
func (d *Device) MIFAREGetValue(block byte) (int32, error) {
	data, err := d.MIFARERead(block)
	if err != nil {
		return 0, err
	}
	value, _, err := DecodeValueBlock(data)
	if err != nil {
		return 0, newStatusError("MIFARE get value", StatusError, fmt.Errorf("block %d: %w", block, err))
	}
	return value, nil
}

// MIFARESetValue formats block as a value block holding value. The
// address bytes are set to block itself.
func (d *Device) MIFARESetValue(block byte, value int32) error {
	data := EncodeValueBlock(value, block)
	return d.MIFAREWrite(block, data[:])
}

// EncodeValueBlock lays out a value block: value, its complement and
// value again (little-endian), then addr, ^addr, addr, ^addr
func EncodeValueBlock(value int32, addr byte) [MIFAREBlockSize]byte {
	var b [MIFAREBlockSize]byte
	v := uint32(value)
	binary.LittleEndian.PutUint32(b[0:4], v)
	binary.LittleEndian.PutUint32(b[4:8], ^v)
	binary.LittleEndian.PutUint32(b[8:12], v)
	b[12], b[13], b[14], b[15] = addr, ^addr, addr, ^addr
	return b
}

// DecodeValueBlock checks the redundancy of a value block and returns its
// value and address byte
func DecodeValueBlock(b []byte) (value int32, addr byte, err error) {
	if len(b) != MIFAREBlockSize {
		return 0, 0, fmt.Errorf("%d bytes: %w", len(b), ErrNotValueBlock)
	}
	v := binary.LittleEndian.Uint32(b[0:4])
	if binary.LittleEndian.Uint32(b[4:8]) != ^v || binary.LittleEndian.Uint32(b[8:12]) != v {
		return 0, 0, ErrNotValueBlock
	}
	if b[12] != b[14] || b[13] != b[15] || b[12] != ^b[13] {
		return 0, 0, ErrNotValueBlock
	}
	return int32(v), b[12], nil
}

// mifareTransceive sends up to 16 bytes plus CRC_A and expects the 4 bit
// MIFARE ACK. With acceptTimeout a silent card counts as success.
func (d *Device) mifareTransceive(op string, data []byte, acceptTimeout bool) error {
	if len(data) > mifareMaxSendPayload {
		return newStatusError(op, StatusInvalid,
			fmt.Errorf("%d bytes exceeds %d: %w", len(data), mifareMaxSendPayload, ErrInvalidParameter))
	}

	send, err := d.appendCRC(data)
	if err != nil {
		return err
	}
	res, err := d.communicate(op, PCDTransceive, irqRx|irqIdle, send, frameOptions{})
	if acceptTimeout && Status(err) == StatusTimeout {
		return nil
	}
	if err != nil {
		return err
	}

	if len(res.Data) != 1 || res.ValidBits != 4 {
		return newStatusError(op, StatusError,
			fmt.Errorf("%d bytes with %d valid bits instead of ACK: %w", len(res.Data), res.ValidBits, ErrInvalidResponse))
	}
	if nibble := res.Data[0] & 0x0F; nibble != mifareACK {
		debugf("%s: NAK 0x%X", op, nibble)
		return newStatusError(op, StatusMifareNack, fmt.Errorf("NAK 0x%X", nibble))
	}
	return nil
}
