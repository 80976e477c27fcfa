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

// CRC presets selectable through ModeReg.CRCPreset
const (
	// CRCPresetA is the ISO/IEC 14443-3 type A preset
	CRCPresetA uint16 = 0x6363
	// CRCPresetFFFF is the preset some reference code programs instead
	CRCPresetFFFF uint16 = 0xFFFF

	crcPresetZero uint16 = 0x0000
	crcPresetA671 uint16 = 0xA671
)

func crcPresetBits(preset uint16) (byte, error) {
	switch preset {
	case crcPresetZero:
		return 0x00, nil
	case CRCPresetA:
		return 0x01, nil
	case crcPresetA671:
		return 0x02, nil
	case CRCPresetFFFF:
		return 0x03, nil
	default:
		return 0, fmt.Errorf("CRC preset 0x%04X: %w", preset, ErrInvalidParameter)
	}
}

// CRC16 computes the CRC the coprocessor computes: polynomial
// x^16+x^12+x^5+1 processed LSB first, no final XOR. The result is
// returned in transmission order, low byte first.
func CRC16(data []byte, preset uint16) [2]byte {
	crc := preset
	for _, b := range data {
		b ^= byte(crc)
		b ^= b << 4
		crc = (crc >> 8) ^ uint16(b)<<8 ^ uint16(b)<<3 ^ uint16(b)>>4
	}
	return [2]byte{byte(crc), byte(crc >> 8)}
}

// CRCA computes CRC_A over data
func CRCA(data []byte) [2]byte {
	return CRC16(data, CRCPresetA)
}

// CalculateCRC runs data through the chip's CRC coprocessor and returns
// the two result bytes, low byte first. The wait is bounded by
// DeviceConfig.CRCTimeout and yields StatusTimeout when it expires.
func (d *Device) CalculateCRC(data []byte) ([2]byte, error) {
	const op = "calculate CRC"
	var result [2]byte

	if len(data) > fifoSize {
		return result, newStatusError(op, StatusInvalid,
			fmt.Errorf("%d bytes do not fit the FIFO: %w", len(data), ErrInvalidParameter))
	}

	setup := []RegisterWrite{
		{Reg: RegCommand, Value: PCDIdle},
		{Reg: RegDivIrq, Value: divIrqCRC},
		{Reg: RegFIFOLevel, Value: fifoFlushBuffer},
	}
	for _, s := range setup {
		if err := d.writeReg(s.Reg, s.Value); err != nil {
			return result, transportFailure(op, err)
		}
	}
	if err := d.transport.WriteRegisters(RegFIFOData, data); err != nil {
		return result, transportFailure(op, err)
	}
	if err := d.writeReg(RegCommand, PCDCalcCRC); err != nil {
		return result, transportFailure(op, err)
	}

	deadline := time.Now().Add(d.config.CRCTimeout)
	for {
		irq, err := d.readReg(RegDivIrq)
		if err != nil {
			return result, transportFailure(op, err)
		}
		if irq&divIrqCRC != 0 {
			break
		}
		if time.Now().After(deadline) {
			debugf("CRC coprocessor did not finish within %v", d.config.CRCTimeout)
			return result, newStatusError(op, StatusTimeout, nil)
		}
	}

	if err := d.writeReg(RegCommand, PCDIdle); err != nil {
		return result, transportFailure(op, err)
	}
	lo, err := d.readReg(RegCRCResultL)
	if err != nil {
		return result, transportFailure(op, err)
	}
	hi, err := d.readReg(RegCRCResultH)
	if err != nil {
		return result, transportFailure(op, err)
	}
	result[0], result[1] = lo, hi
	return result, nil
}

// appendCRC returns data followed by its chip-computed CRC_A
func (d *Device) appendCRC(data []byte) ([]byte, error) {
	crc, err := d.CalculateCRC(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	return append(out, crc[0], crc[1]), nil
}
