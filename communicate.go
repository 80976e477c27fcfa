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

// FrameResult is the inbound side of one frame exchange
type FrameResult struct {
	// Data holds the received bytes
	Data []byte
	// ValidBits is the number of valid bits in the last byte of Data,
	// 0 meaning all 8
	ValidBits byte
}

// frameOptions tunes a single exchange. The zero value sends whole
// bytes, receives aligned, skips CRC checking and accepts up to a full
// FIFO of response.
type frameOptions struct {
	validBits byte // bits to transmit from the last byte, 0 = 8
	rxAlign   byte // bit position of the first received bit
	checkCRC  bool
	maxLen    int
}

// communicate runs one PCD command through the FIFO and collects the
// response. waitIRq selects the ComIrqReg bits that signal completion.
// On StatusCollision the bytes received so far are returned alongside
// the error.
func (d *Device) communicate(op string, command, waitIRq byte, send []byte, opts frameOptions) (FrameResult, error) {
	var res FrameResult

	if opts.validBits > 7 || opts.rxAlign > 7 {
		return res, newStatusError(op, StatusInvalid,
			fmt.Errorf("validBits %d rxAlign %d: %w", opts.validBits, opts.rxAlign, ErrInvalidParameter))
	}
	if len(send) > fifoSize {
		return res, newStatusError(op, StatusInvalid,
			fmt.Errorf("%d bytes do not fit the FIFO: %w", len(send), ErrInvalidParameter))
	}
	maxLen := opts.maxLen
	if maxLen <= 0 {
		maxLen = fifoSize
	}

	bitFraming := opts.rxAlign<<4 | opts.validBits

	if err := d.writeReg(RegCommand, PCDIdle); err != nil {
		return res, transportFailure(op, err)
	}
	if err := d.writeReg(RegComIrq, irqAll); err != nil {
		return res, transportFailure(op, err)
	}
	if err := d.writeReg(RegFIFOLevel, fifoFlushBuffer); err != nil {
		return res, transportFailure(op, err)
	}
	if err := d.transport.WriteRegisters(RegFIFOData, send); err != nil {
		return res, transportFailure(op, err)
	}
	if err := d.writeReg(RegBitFraming, bitFraming); err != nil {
		return res, transportFailure(op, err)
	}
	if err := d.writeReg(RegCommand, command); err != nil {
		return res, transportFailure(op, err)
	}
	if command == PCDTransceive {
		if err := d.setBits(RegBitFraming, bitFramingStartSend); err != nil {
			return res, transportFailure(op, err)
		}
	}

	if err := d.waitCommand(op, waitIRq); err != nil {
		return res, err
	}

	errReg, err := d.readReg(RegError)
	if err != nil {
		return res, transportFailure(op, err)
	}
	if errReg&errFrameFatal != 0 {
		debugf("%s: ErrorReg 0x%02X", op, errReg)
		return res, newStatusError(op, StatusError, fmt.Errorf("error register 0x%02X", errReg))
	}

	if command != PCDMFAuthent {
		res, err = d.readFIFO(op, maxLen, opts.rxAlign)
		if err != nil {
			return res, err
		}
	}

	if errReg&errColl != 0 {
		return res, newStatusError(op, StatusCollision, nil)
	}

	if opts.checkCRC && len(res.Data) > 0 {
		if err := d.verifyCRC(op, res); err != nil {
			return res, err
		}
	}

	return res, nil
}

// waitCommand polls ComIrqReg until a bit in waitIRq is set, the chip
// timer fires or CommandTimeout elapses
func (d *Device) waitCommand(op string, waitIRq byte) error {
	deadline := time.Now().Add(d.config.CommandTimeout)
	for {
		irq, err := d.readReg(RegComIrq)
		if err != nil {
			return transportFailure(op, err)
		}
		if irq&waitIRq != 0 {
			return nil
		}
		if irq&irqTimer != 0 {
			return newStatusError(op, StatusTimeout, nil)
		}
		if time.Now().After(deadline) {
			debugf("%s: no completion within %v", op, d.config.CommandTimeout)
			return newStatusError(op, StatusTimeout, nil)
		}
	}
}

func (d *Device) readFIFO(op string, maxLen int, rxAlign byte) (FrameResult, error) {
	var res FrameResult

	level, err := d.readReg(RegFIFOLevel)
	if err != nil {
		return res, transportFailure(op, err)
	}
	n := int(level & fifoLevelMask)
	if n > maxLen {
		return res, newStatusError(op, StatusNoRoom, fmt.Errorf("%d bytes received, room for %d", n, maxLen))
	}

	if n > 0 {
		data, err := d.transport.ReadRegisters(RegFIFOData, n)
		if err != nil {
			return res, transportFailure(op, err)
		}
		if len(data) != n {
			return res, newStatusError(op, StatusError,
				fmt.Errorf("FIFO returned %d of %d bytes: %w", len(data), n, ErrInvalidResponse))
		}
		// bits below rxAlign belong to the caller's copy of the first byte
		data[0] &= 0xFF << rxAlign
		res.Data = data
	}

	control, err := d.readReg(RegControl)
	if err != nil {
		return res, transportFailure(op, err)
	}
	res.ValidBits = control & controlRxLastBits
	return res, nil
}

func (d *Device) verifyCRC(op string, res FrameResult) error {
	n := len(res.Data)
	if n == 1 && res.ValidBits == 4 {
		return newStatusError(op, StatusMifareNack, fmt.Errorf("NAK 0x%X", res.Data[0]&0x0F))
	}
	if n < 2 || res.ValidBits != 0 {
		return newStatusError(op, StatusCRCWrong,
			fmt.Errorf("%d bytes with %d valid bits cannot carry a CRC", n, res.ValidBits))
	}

	crc, err := d.CalculateCRC(res.Data[:n-2])
	if err != nil {
		return err
	}
	if res.Data[n-2] != crc[0] || res.Data[n-1] != crc[1] {
		return newStatusError(op, StatusCRCWrong,
			fmt.Errorf("got %02X %02X, want %02X %02X", res.Data[n-2], res.Data[n-1], crc[0], crc[1]))
	}
	return nil
}

// TransceiveData sends send to the PICC and returns its answer.
// validBits is the number of bits to transmit from the last byte (0 for
// all 8), rxAlign the bit position the first received bit lands on. With
// checkCRC the last two received bytes are verified as CRC_A; they are
// left in the result.
func (d *Device) TransceiveData(send []byte, validBits, rxAlign byte, checkCRC bool) (FrameResult, error) {
	return d.communicate("transceive", PCDTransceive, irqRx|irqIdle, send, frameOptions{
		validBits: validBits,
		rxAlign:   rxAlign,
		checkCRC:  checkCRC,
	})
}
