// go-mfrc522
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-mfrc522.
//
// go-mfrc522 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-mfrc522 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-mfrc522; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package mfrc522

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-mfrc522/detection"
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RetryConfig configures retry behavior for ConnectDevice and polling
	RetryConfig *RetryConfig
	// CRCTimeout bounds the wait for the CRC coprocessor
	CRCTimeout time.Duration
	// CommandTimeout bounds the host-side wait for a transceive or
	// authentication command. The chip timer (25ms) normally fires first.
	CommandTimeout time.Duration
	// ResetTimeout bounds the wait for the chip to leave power-down after
	// a soft reset or SoftPowerUp
	ResetTimeout time.Duration
	// CRCPreset is the CRC_A preset programmed into ModeReg
	CRCPreset uint16
	// AntennaGain is the receiver gain applied by Init. Zero keeps the
	// chip default.
	AntennaGain AntennaGain
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RetryConfig:    DefaultRetryConfig(),
		CRCTimeout:     100 * time.Millisecond,
		CommandTimeout: 200 * time.Millisecond,
		ResetTimeout:   150 * time.Millisecond,
		CRCPreset:      CRCPresetA,
	}
}

// Device represents an MFRC522 reader and the state of the card session
// running through it.
//
// Thread Safety: Device is NOT thread-safe. All methods must be called from
// a single goroutine or protected with external synchronization. Every
// operation is a sequence of register accesses that must not interleave
// with another operation on the same chip.
type Device struct {
	transport     Transport
	config        *DeviceConfig
	authenticated bool
}

// New creates a new MFRC522 device with the given transport. The chip is
// not touched until Init is called.
func New(transport Transport, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport: %w", ErrInvalidParameter)
	}
	device := &Device{
		transport: transport,
		config:    DefaultDeviceConfig(),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport
}

// Config returns a copy of the active configuration
func (d *Device) Config() DeviceConfig {
	return *d.config
}

// Init resets the chip and programs it for ISO/IEC 14443 type A at
// 106 kBd: 25ms receive timeout, 100% ASK, CRC preset from the config,
// then switches the antenna on.
func (d *Device) Init() error {
	if err := d.Reset(); err != nil {
		return err
	}

	presetBits, err := crcPresetBits(d.config.CRCPreset)
	if err != nil {
		return newStatusError("init", StatusInvalid, err)
	}

	// f_timer = 13.56MHz / (2*0xA9+1) = 40kHz, 1000 ticks = 25ms
	steps := []RegisterWrite{
		{Reg: RegTxMode, Value: 0x00},
		{Reg: RegRxMode, Value: 0x00},
		{Reg: RegModWidth, Value: 0x26},
		{Reg: RegTMode, Value: 0x80},
		{Reg: RegTPrescaler, Value: 0xA9},
		{Reg: RegTReloadH, Value: 0x03},
		{Reg: RegTReloadL, Value: 0xE8},
		{Reg: RegTxASK, Value: 0x40},
		{Reg: RegMode, Value: 0x3C | presetBits},
	}
	for _, s := range steps {
		if err := d.writeReg(s.Reg, s.Value); err != nil {
			return transportFailure("init", err)
		}
	}

	if d.config.AntennaGain != 0 {
		if err := d.SetAntennaGain(d.config.AntennaGain); err != nil {
			return err
		}
	}

	d.authenticated = false
	debugf("init done, CRC preset 0x%04X", d.config.CRCPreset)
	return d.AntennaOn()
}

// InitContext runs Init with the transport retry policy, giving up when
// ctx is done.
func (d *Device) InitContext(ctx context.Context) error {
	return RetryWithConfig(ctx, d.config.RetryConfig, d.Init)
}

// Reset issues a soft reset and waits for the chip to leave power-down.
// All registers return to their reset values, which also clears any
// Crypto1 session.
func (d *Device) Reset() error {
	if err := d.writeReg(RegCommand, PCDSoftReset); err != nil {
		return transportFailure("reset", err)
	}
	d.authenticated = false
	return d.waitPowerUp("reset")
}

func (d *Device) waitPowerUp(op string) error {
	deadline := time.Now().Add(d.config.ResetTimeout)
	for {
		v, err := d.readReg(RegCommand)
		if err != nil {
			return transportFailure(op, err)
		}
		if v&commandPowerDown == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return newStatusError(op, StatusTimeout, nil)
		}
		time.Sleep(time.Millisecond)
	}
}

// AntennaOn enables the TX1 and TX2 antenna drivers. It is a no-op when
// they are already enabled.
func (d *Device) AntennaOn() error {
	v, err := d.readReg(RegTxControl)
	if err != nil {
		return transportFailure("antenna on", err)
	}
	if v&txControlAntenna == txControlAntenna {
		return nil
	}
	if err := d.writeReg(RegTxControl, v|txControlAntenna); err != nil {
		return transportFailure("antenna on", err)
	}
	return nil
}

// AntennaOff disables the antenna drivers. Any card in the field loses
// power and with it its session.
func (d *Device) AntennaOff() error {
	if err := d.clearBits(RegTxControl, txControlAntenna); err != nil {
		return transportFailure("antenna off", err)
	}
	d.authenticated = false
	return nil
}

// AntennaGain returns the receiver gain from RFCfgReg
func (d *Device) AntennaGain() (AntennaGain, error) {
	v, err := d.readReg(RegRFCfg)
	if err != nil {
		return 0, transportFailure("antenna gain", err)
	}
	return AntennaGain(v & rfCfgRxGainMask), nil
}

// SetAntennaGain programs the receiver gain, leaving the other RFCfgReg
// bits untouched
func (d *Device) SetAntennaGain(gain AntennaGain) error {
	if byte(gain)&^rfCfgRxGainMask != 0 {
		return newStatusError("set antenna gain", StatusInvalid,
			fmt.Errorf("gain 0x%02X: %w", byte(gain), ErrInvalidParameter))
	}
	current, err := d.AntennaGain()
	if err != nil {
		return err
	}
	if current == gain {
		return nil
	}
	if err := d.clearBits(RegRFCfg, rfCfgRxGainMask); err != nil {
		return transportFailure("set antenna gain", err)
	}
	if err := d.setBits(RegRFCfg, byte(gain)); err != nil {
		return transportFailure("set antenna gain", err)
	}
	return nil
}

// SoftPowerDown enters soft power-down. The register contents are kept
// but the card session is lost.
func (d *Device) SoftPowerDown() error {
	if err := d.setBits(RegCommand, commandPowerDown); err != nil {
		return transportFailure("power down", err)
	}
	d.authenticated = false
	return nil
}

// SoftPowerUp leaves soft power-down and waits for the oscillator
func (d *Device) SoftPowerUp() error {
	if err := d.clearBits(RegCommand, commandPowerDown); err != nil {
		return transportFailure("power up", err)
	}
	return d.waitPowerUp("power up")
}

// TransportFactory is a function type for creating transports
type TransportFactory func(path string) (Transport, error)

// TransportFromDeviceFactory is a function type for creating transports from detected devices
type TransportFromDeviceFactory func(device detection.DeviceInfo) (Transport, error)

// DeviceDetector lists candidate readers
type DeviceDetector func(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error)

// ConnectOption represents a functional option for ConnectDevice
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	transportFactory       TransportFactory
	transportDeviceFactory TransportFromDeviceFactory
	deviceDetector         DeviceDetector
	deviceOptions          []Option
	connectionRetries      int
	autoDetect             bool
}

// WithAutoDetection enables automatic device detection instead of using a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithDeviceOptions adds device-level options
func WithDeviceOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithTransportFactory sets the transport factory function
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithTransportFromDeviceFactory sets the transport from device factory function
func WithTransportFromDeviceFactory(factory TransportFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of connection retry attempts
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

// WithDeviceDetector sets a custom device detector function for auto-detection
func WithDeviceDetector(detector DeviceDetector) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

// ConnectDevice creates and initializes an MFRC522 device from a path or
// auto-detection. The transport is closed again if initialization fails.
//
// Example usage:
//
//	device, err := mfrc522.ConnectDevice(ctx, "/dev/spidev0.0",
//		mfrc522.WithTransportFactory(func(path string) (mfrc522.Transport, error) {
//			return spi.New(path)
//		}))
func ConnectDevice(ctx context.Context, path string, opts ...ConnectOption) (*Device, error) {
	config := &connectConfig{connectionRetries: DefaultConnectionRetries}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	var (
		transport Transport
		err       error
	)
	if config.autoDetect || path == "" {
		transport, err = createAutoDetectedTransport(ctx, config)
	} else {
		transport, err = createManualTransport(path, config.transportFactory)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	device, err := setupDeviceWithRetry(ctx, transport, config)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}
	return device, nil
}

func setupDeviceWithRetry(ctx context.Context, transport Transport, config *connectConfig) (*Device, error) {
	device, err := New(transport, config.deviceOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	retryConfig := connectionRetryConfig(config.connectionRetries)
	// A detected device gets exactly one attempt
	if config.autoDetect {
		retryConfig.MaxAttempts = 1
	}

	if err := RetryWithConfig(ctx, retryConfig, device.Init); err != nil {
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}
	if _, err := device.Version(); err != nil {
		return nil, fmt.Errorf("failed to read chip version: %w", err)
	}
	return device, nil
}

func createManualTransport(path string, factory TransportFactory) (Transport, error) {
	if factory == nil {
		return nil, errors.New("transport factory not provided")
	}

	transport, err := factory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for path %s: %w", path, err)
	}
	return transport, nil
}

func createAutoDetectedTransport(ctx context.Context, config *connectConfig) (Transport, error) {
	opts := detection.DefaultOptions()

	detector := config.deviceDetector
	if detector == nil {
		detector = detection.DetectAll
	}
	devices, err := detector(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no MFRC522 devices found: %w", ErrDeviceNotFound)
	}
	if config.transportDeviceFactory == nil {
		return nil, errors.New("transport device factory not provided")
	}

	debugf("using detected device %s", devices[0])
	return config.transportDeviceFactory(devices[0])
}

// Close closes the device connection
func (d *Device) Close() error {
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			return fmt.Errorf("failed to close transport: %w", err)
		}
	}
	return nil
}

// Register helpers. Callers wrap failures with the operation name.

func (d *Device) readReg(reg byte) (byte, error) {
	v, err := d.transport.ReadRegister(reg)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%02X: %w", reg, err)
	}
	return v, nil
}

func (d *Device) writeReg(reg, value byte) error {
	if err := d.transport.WriteRegister(reg, value); err != nil {
		return fmt.Errorf("write register 0x%02X: %w", reg, err)
	}
	return nil
}

func (d *Device) setBits(reg, mask byte) error {
	v, err := d.readReg(reg)
	if err != nil {
		return err
	}
	return d.writeReg(reg, v|mask)
}

func (d *Device) clearBits(reg, mask byte) error {
	v, err := d.readReg(reg)
	if err != nil {
		return err
	}
	return d.writeReg(reg, v&^mask)
}

// transportFailure reports a register link failure as a StatusCodeError so
// every exported operation surfaces a status code
func transportFailure(op string, err error) error {
	return newStatusError(op, StatusError, err)
}
