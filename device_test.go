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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-mfrc522/detection"
	virt "github.com/ZaparooProject/go-mfrc522/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilTransport(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	tests := []struct {
		check   func(t *testing.T, cfg DeviceConfig)
		name    string
		opts    []Option
		wantErr bool
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg DeviceConfig) {
				assert.Equal(t, CRCPresetA, cfg.CRCPreset)
				assert.Equal(t, 200*time.Millisecond, cfg.CommandTimeout)
				assert.NotNil(t, cfg.RetryConfig)
			},
		},
		{
			name: "timeouts",
			opts: []Option{
				WithCRCTimeout(time.Second),
				WithCommandTimeout(2 * time.Second),
				WithResetTimeout(3 * time.Second),
			},
			check: func(t *testing.T, cfg DeviceConfig) {
				assert.Equal(t, time.Second, cfg.CRCTimeout)
				assert.Equal(t, 2*time.Second, cfg.CommandTimeout)
				assert.Equal(t, 3*time.Second, cfg.ResetTimeout)
			},
		},
		{
			name: "max retries",
			opts: []Option{WithRetryConfig(nil), WithMaxRetries(7)},
			check: func(t *testing.T, cfg DeviceConfig) {
				require.NotNil(t, cfg.RetryConfig)
				assert.Equal(t, 7, cfg.RetryConfig.MaxAttempts)
			},
		},
		{
			name: "gain",
			opts: []Option{WithAntennaGain(AntennaGainMax)},
			check: func(t *testing.T, cfg DeviceConfig) {
				assert.Equal(t, AntennaGainMax, cfg.AntennaGain)
			},
		},
		{name: "zero CRC timeout", opts: []Option{WithCRCTimeout(0)}, wantErr: true},
		{name: "negative command timeout", opts: []Option{WithCommandTimeout(-time.Second)}, wantErr: true},
		{name: "zero reset timeout", opts: []Option{WithResetTimeout(0)}, wantErr: true},
		{name: "unsupported preset", opts: []Option{WithCRCPreset(0x1234)}, wantErr: true},
		{name: "bad gain", opts: []Option{WithAntennaGain(0x0F)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, err := New(NewMockTransport(), tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, device.Config())
		})
	}
}

func TestInit_ProgramsRegisters(t *testing.T) {
	t.Parallel()

	device, sim := newSimDevice(t)
	_ = device

	want := map[byte]byte{
		RegTxMode:     0x00,
		RegRxMode:     0x00,
		RegModWidth:   0x26,
		RegTMode:      0x80,
		RegTPrescaler: 0xA9,
		RegTReloadH:   0x03,
		RegTReloadL:   0xE8,
		RegTxASK:      0x40,
		RegMode:       0x3D,
	}
	for reg, v := range want {
		assert.Equal(t, v, sim.Register(reg), "register 0x%02X", reg)
	}
	assert.Equal(t, byte(0x03), sim.Register(RegTxControl)&0x03, "antenna on")
}

func TestInit_AppliesGain(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualMFRC522()
	device, err := New(simTransport{sim}, WithAntennaGain(AntennaGain43dB))
	require.NoError(t, err)
	require.NoError(t, device.Init())

	gain, err := device.AntennaGain()
	require.NoError(t, err)
	assert.Equal(t, AntennaGain43dB, gain)
}

func TestInit_ClearsSession(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t, virt.NewVirtualMIFARE1K(nil))
	authenticated(t, device, 4)
	require.NoError(t, device.Init())
	assert.False(t, device.IsAuthenticated())
}

func TestReset_Timeout(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock, WithResetTimeout(5*time.Millisecond))
	require.NoError(t, err)

	// the chip never leaves power-down
	stuck := make([]byte, 1000)
	for i := range stuck {
		stuck[i] = commandPowerDown
	}
	mock.QueueReads(RegCommand, stuck...)
	err = device.Reset()
	assert.Equal(t, StatusTimeout, Status(err))
}

func TestAntenna_OnOff(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetRegister(RegTxControl, 0x80)
	device, err := New(mock)
	require.NoError(t, err)

	require.NoError(t, device.AntennaOn())
	assert.Equal(t, byte(0x83), mock.Register(RegTxControl))

	writes := len(mock.Writes())
	require.NoError(t, device.AntennaOn())
	assert.Len(t, mock.Writes(), writes, "already on, nothing written")

	require.NoError(t, device.AntennaOff())
	assert.Equal(t, byte(0x80), mock.Register(RegTxControl))
}

func TestAntenna_OffRemovesCards(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualMIFARE1K(nil)
	device, _ := newSimDevice(t, card)
	selectCard(t, device)

	require.NoError(t, device.AntennaOff())
	assert.Equal(t, virt.CardIdle, card.State)

	present, err := device.IsNewCardPresent()
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, device.AntennaOn())
	present, err = device.IsNewCardPresent()
	require.NoError(t, err)
	assert.True(t, present)
}

func TestAntennaGain_KeepsOtherBits(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetRegister(RegRFCfg, 0x48)
	device, err := New(mock)
	require.NoError(t, err)

	gain, err := device.AntennaGain()
	require.NoError(t, err)
	assert.Equal(t, AntennaGain33dB, gain)

	require.NoError(t, device.SetAntennaGain(AntennaGain18dB))
	assert.Equal(t, byte(0x08), mock.Register(RegRFCfg))

	require.NoError(t, device.SetAntennaGain(AntennaGainMax))
	assert.Equal(t, byte(0x78), mock.Register(RegRFCfg))

	assert.Equal(t, StatusInvalid, Status(device.SetAntennaGain(0x81)))
}

func TestSoftPowerDownUp(t *testing.T) {
	t.Parallel()

	device, sim := newSimDevice(t)
	require.NoError(t, device.SoftPowerDown())
	assert.NotZero(t, sim.Register(RegCommand)&commandPowerDown)

	require.NoError(t, device.SoftPowerUp())
	assert.Zero(t, sim.Register(RegCommand)&commandPowerDown)
}

func TestVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         byte
		wantName    string
		wantGenuine bool
		wantErr     bool
	}{
		{name: "v2", raw: 0x92, wantName: "MFRC522 v2.0", wantGenuine: true},
		{name: "v1", raw: 0x91, wantName: "MFRC522 v1.0", wantGenuine: true},
		{name: "clone", raw: 0x88, wantName: "FM17522"},
		{name: "unknown", raw: 0xB2, wantName: "unknown"},
		{name: "floating bus", raw: 0xFF, wantErr: true},
		{name: "no device", raw: 0x00, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sim := virt.NewVirtualMFRC522()
			sim.SetVersion(tt.raw)
			device, err := New(simTransport{sim})
			require.NoError(t, err)

			v, err := device.Version()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDeviceNotFound)
				assert.True(t, IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, v.Name)
			assert.Equal(t, tt.raw, v.Raw)
			assert.Equal(t, tt.wantGenuine, v.Genuine)
			assert.Contains(t, v.String(), tt.wantName)
		})
	}
}

func TestConnectDevice_Manual(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualMFRC522()
	var gotPath string
	device, err := ConnectDevice(context.Background(), "/dev/spidev0.0",
		WithTransportFactory(func(path string) (Transport, error) {
			gotPath = path
			return simTransport{sim}, nil
		}),
		WithDeviceOptions(WithCRCTimeout(time.Second)),
	)
	require.NoError(t, err)
	assert.Equal(t, "/dev/spidev0.0", gotPath)
	assert.Equal(t, time.Second, device.Config().CRCTimeout)
	assert.Equal(t, byte(0x03), sim.Register(RegTxControl)&0x03)
	require.NoError(t, device.Close())
}

func TestConnectDevice_NoFactory(t *testing.T) {
	t.Parallel()

	_, err := ConnectDevice(context.Background(), "/dev/spidev0.0")
	require.Error(t, err)
}

func TestConnectDevice_ClosesTransportOnFailure(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetError(RegCommand, ErrTransportWrite)
	_, err := ConnectDevice(context.Background(), "/dev/spidev0.0",
		WithTransportFactory(func(string) (Transport, error) { return mock, nil }),
		WithConnectionRetries(1),
	)
	require.Error(t, err)
	assert.Equal(t, StatusError, Status(err))

	mock.ClearError(RegCommand)
	_, err = mock.ReadRegister(RegVersion)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestConnectDevice_AutoDetect(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualMFRC522()
	found := detection.DeviceInfo{Transport: "spi", Path: "/dev/spidev0.0", Name: "MFRC522"}

	var used detection.DeviceInfo
	device, err := ConnectDevice(context.Background(), "",
		WithAutoDetection(),
		WithDeviceDetector(func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
			return []detection.DeviceInfo{found}, nil
		}),
		WithTransportFromDeviceFactory(func(info detection.DeviceInfo) (Transport, error) {
			used = info
			return simTransport{sim}, nil
		}),
	)
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, found.Path, used.Path)
}

func TestConnectDevice_AutoDetectErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		detector DeviceDetector
		name     string
		want     error
	}{
		{
			name: "nothing found",
			detector: func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
				return nil, nil
			},
			want: ErrDeviceNotFound,
		},
		{
			name: "detector fails",
			detector: func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
				return nil, errDetect
			},
			want: errDetect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ConnectDevice(context.Background(), "", WithDeviceDetector(tt.detector))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

var errDetect = errors.New("detect failed")

func TestWithConnectionRetries_Validation(t *testing.T) {
	t.Parallel()

	_, err := ConnectDevice(context.Background(), "x", WithConnectionRetries(0))
	require.Error(t, err)
}

func TestDevice_TransportAccessor(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock)
	require.NoError(t, err)
	assert.Same(t, mock, device.Transport())
	require.NoError(t, device.Close())

	_, err = mock.ReadRegister(RegVersion)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestAntennaGain_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "18 dB", AntennaGainMin.String())
	assert.Equal(t, "23 dB", AntennaGain23dBb.String())
	assert.Equal(t, "33 dB", AntennaGainAvg.String())
	assert.Equal(t, "43 dB", AntennaGain43dB.String())
	assert.Equal(t, "48 dB", AntennaGainMax.String())
}
