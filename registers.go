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

// MFRC522 register addresses (datasheet section 9.2). Transports are
// responsible for shifting these into the bus-specific address byte.
const (
	// Page 0: command and status
	RegCommand    = 0x01 // starts and stops command execution
	RegComIEn     = 0x02 // enable and disable interrupt request control bits
	RegDivIEn     = 0x03 // enable and disable interrupt request control bits
	RegComIrq     = 0x04 // interrupt request bits
	RegDivIrq     = 0x05 // interrupt request bits
	RegError      = 0x06 // error bits showing the error status of the last command executed
	RegStatus1    = 0x07 // communication status bits
	RegStatus2    = 0x08 // receiver and transmitter status bits
	RegFIFOData   = 0x09 // input and output of 64 byte FIFO buffer
	RegFIFOLevel  = 0x0A // number of bytes stored in the FIFO buffer
	RegWaterLevel = 0x0B // level for FIFO underflow and overflow warning
	RegControl    = 0x0C // miscellaneous control registers
	RegBitFraming = 0x0D // adjustments for bit-oriented frames
	RegColl       = 0x0E // bit position of the first bit-collision detected on the RF interface

	// Page 1: command
	RegMode        = 0x11 // defines general modes for transmitting and receiving
	RegTxMode      = 0x12 // defines transmission data rate and framing
	RegRxMode      = 0x13 // defines reception data rate and framing
	RegTxControl   = 0x14 // controls the logical behavior of the antenna driver pins TX1 and TX2
	RegTxASK       = 0x15 // controls the setting of the transmission modulation
	RegTxSel       = 0x16 // selects the internal sources for the antenna driver
	RegRxSel       = 0x17 // selects internal receiver settings
	RegRxThreshold = 0x18 // selects thresholds for the bit decoder
	RegDemod       = 0x19 // defines demodulator settings
	RegMfTx        = 0x1C // controls some MIFARE communication transmit parameters
	RegMfRx        = 0x1D // controls some MIFARE communication receive parameters
	RegSerialSpeed = 0x1F // selects the speed of the serial UART interface

	// Page 2: configuration
	RegCRCResultH     = 0x21 // CRC calculation result, MSB
	RegCRCResultL     = 0x22 // CRC calculation result, LSB
	RegModWidth       = 0x24 // controls the ModWidth setting
	RegRFCfg          = 0x26 // configures the receiver gain
	RegGsN            = 0x27 // selects the conductance of the antenna driver pins TX1 and TX2 for modulation
	RegCWGsP          = 0x28 // defines the conductance of the p-driver output during no modulation
	RegModGsP         = 0x29 // defines the conductance of the p-driver output during modulation
	RegTMode          = 0x2A // defines settings for the internal timer
	RegTPrescaler     = 0x2B // the lower 8 bits of the TPrescaler value
	RegTReloadH       = 0x2C // defines the 16-bit timer reload value, high byte
	RegTReloadL       = 0x2D // defines the 16-bit timer reload value, low byte
	RegTCounterValueH = 0x2E // shows the 16-bit timer value, high byte
	RegTCounterValueL = 0x2F // shows the 16-bit timer value, low byte

	// Page 3: test registers
	RegTestSel1     = 0x31
	RegTestSel2     = 0x32
	RegTestPinEn    = 0x33
	RegTestPinValue = 0x34
	RegTestBus      = 0x35
	RegAutoTest     = 0x36
	RegVersion      = 0x37 // shows the software version
	RegAnalogTest   = 0x38
	RegTestDAC1     = 0x39
	RegTestDAC2     = 0x3A
	RegTestADC      = 0x3B
)

// PCD commands written to RegCommand (datasheet section 10.3).
const (
	PCDIdle             = 0x00 // no action, cancels current command execution
	PCDMem              = 0x01 // stores 25 bytes into the internal buffer
	PCDGenerateRandomID = 0x02 // generates a 10-byte random ID number
	PCDCalcCRC          = 0x03 // activates the CRC coprocessor or performs a self-test
	PCDTransmit         = 0x04 // transmits data from the FIFO buffer
	PCDNoCmdChange      = 0x07 // modifies CommandReg bits without affecting the running command
	PCDReceive          = 0x08 // activates the receiver circuits
	PCDTransceive       = 0x0C // transmits FIFO data and automatically activates the receiver
	PCDMFAuthent        = 0x0E // performs the MIFARE standard authentication as a reader
	PCDSoftReset        = 0x0F // resets the MFRC522
)

// Register bit masks.
const (
	commandPowerDown = 0x10 // CommandReg: soft power-down mode

	// ComIrqReg / ComIEnReg
	irqSet1   = 0x80
	irqTx     = 0x40
	irqRx     = 0x20
	irqIdle   = 0x10
	irqHiAlrt = 0x08
	irqLoAlrt = 0x04
	irqErr    = 0x02
	irqTimer  = 0x01
	irqAll    = 0x7F

	// DivIrqReg
	divIrqCRC = 0x04

	// ErrorReg
	errWr         = 0x80
	errTemp       = 0x40
	errBufferOvfl = 0x10
	errColl       = 0x08
	errCRC        = 0x04
	errParity     = 0x02
	errProtocol   = 0x01
	errFrameFatal = errBufferOvfl | errParity | errProtocol

	// Status2Reg
	status2MFCrypto1On = 0x08

	// FIFOLevelReg
	fifoFlushBuffer = 0x80
	fifoLevelMask   = 0x7F

	// ControlReg
	controlRxLastBits = 0x07

	// BitFramingReg
	bitFramingStartSend = 0x80

	// CollReg
	collValuesAfterColl = 0x80
	collPosNotValid     = 0x20
	collPosMask         = 0x1F

	// TxControlReg
	txControlAntenna = 0x03

	// RFCfgReg
	rfCfgRxGainMask = 0x70

	// ModeReg CRCPreset bits
	modeCRCPresetMask = 0x03
)

// fifoSize is the depth of the MFRC522 FIFO buffer.
const fifoSize = 64

// AntennaGain is the receiver gain encoded in RFCfgReg bits 6:4.
type AntennaGain byte

// Receiver gain values (datasheet table 98).
const (
	AntennaGain18dB  AntennaGain = 0x00
	AntennaGain23dB  AntennaGain = 0x10
	AntennaGain18dBb AntennaGain = 0x20
	AntennaGain23dBb AntennaGain = 0x30
	AntennaGain33dB  AntennaGain = 0x40
	AntennaGain38dB  AntennaGain = 0x50
	AntennaGain43dB  AntennaGain = 0x60
	AntennaGain48dB  AntennaGain = 0x70

	AntennaGainMin AntennaGain = AntennaGain18dB
	AntennaGainAvg AntennaGain = AntennaGain33dB
	AntennaGainMax AntennaGain = AntennaGain48dB
)

func (g AntennaGain) String() string {
	switch g & 0x70 {
	case AntennaGain18dB, AntennaGain18dBb:
		return "18 dB"
	case AntennaGain23dB, AntennaGain23dBb:
		return "23 dB"
	case AntennaGain33dB:
		return "33 dB"
	case AntennaGain38dB:
		return "38 dB"
	case AntennaGain43dB:
		return "43 dB"
	default:
		return "48 dB"
	}
}
