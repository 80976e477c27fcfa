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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/detection"
	"github.com/ZaparooProject/go-mfrc522/polling"
)

type commandFunc func(ctx context.Context, device *mfrc522.Device, cfg *config, out io.Writer) error

var commands = map[string]commandFunc{
	"info":   runInfo,
	"read":   runRead,
	"write":  runWrite,
	"value":  runValue,
	"watch":  runWatch,
	"stress": runStress,
}

func runScan(ctx context.Context, cfg *config, out io.Writer) error {
	opts := detection.DefaultOptions()
	opts.Mode = cfg.mode
	opts.EnableCache = false

	devices, err := detection.DetectAll(ctx, &opts)
	if errors.Is(err, detection.ErrNoDevicesFound) {
		_, _ = fmt.Fprintln(out, "No readers found.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}
	printDevices(out, devices)
	return nil
}

func printDevices(out io.Writer, devices []detection.DeviceInfo) {
	for _, d := range devices {
		_, _ = fmt.Fprintf(out, "%-5s %-22s %s", d.Transport, d.Path, d.Name)
		if v := d.Metadata["version"]; v != "" && v != d.Name {
			_, _ = fmt.Fprintf(out, " [%s]", v)
		}
		_, _ = fmt.Fprintf(out, " (confidence: %s)\n", d.Confidence)
	}
}

func runInfo(_ context.Context, device *mfrc522.Device, _ *config, out io.Writer) error {
	version, err := device.Version()
	if err != nil {
		return err
	}
	gain, err := device.AntennaGain()
	if err != nil {
		return err
	}
	genuine := "yes"
	if !version.Genuine {
		genuine = "no"
	}
	_, _ = fmt.Fprintf(out, "Transport: %s\n", device.Transport().Type())
	_, _ = fmt.Fprintf(out, "Chip:      %s\n", version)
	_, _ = fmt.Fprintf(out, "Genuine:   %s\n", genuine)
	_, _ = fmt.Fprintf(out, "Gain:      %s\n", gain)
	return nil
}

// waitContext bounds how long a command waits for a card
func waitContext(ctx context.Context, cfg *config) (context.Context, context.CancelFunc) {
	if cfg.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.timeout)
}

// sectorBlocks returns the first block and block count of a sector
func sectorBlocks(sector int) (first, count int) {
	if sector < 32 {
		return sector * 4, 4
	}
	return 128 + (sector-32)*16, 16
}

// sectorCount returns how many sectors a MIFARE Classic card has
func sectorCount(t mfrc522.PICCType) int {
	switch t {
	case mfrc522.PICCTypeMIFAREMini:
		return 5
	case mfrc522.PICCTypeMIFARE4K:
		return 40
	default:
		return 16
	}
}

func runRead(ctx context.Context, device *mfrc522.Device, cfg *config, out io.Writer) error {
	waitCtx, cancel := waitContext(ctx, cfg)
	defer cancel()

	return device.WithCard(waitCtx, func(uid mfrc522.UID) error {
		printCard(out, uid)

		if uid.Type() == mfrc522.PICCTypeMIFAREUL {
			data, err := device.MIFARERead(byte(cfg.block))
			if err != nil {
				return err
			}
			for i := 0; i < len(data); i += mfrc522.UltralightPageSize {
				printLine(out, "Page", cfg.block+i/mfrc522.UltralightPageSize, data[i:i+mfrc522.UltralightPageSize])
			}
			return nil
		}
		if !uid.Type().IsMIFAREClassic() {
			return fmt.Errorf("%s is not a MIFARE card", uid.Type())
		}

		first, count := cfg.block, 1
		if cfg.sector >= 0 {
			if cfg.sector >= sectorCount(uid.Type()) {
				return fmt.Errorf("sector %d out of range for %s", cfg.sector, uid.Type())
			}
			first, count = sectorBlocks(cfg.sector)
		}
		if err := device.Authenticate(cfg.keyType, byte(first), cfg.key, uid); err != nil {
			return fmt.Errorf("authentication with key %s failed: %w", cfg.keyType, err)
		}
		for block := first; block < first+count; block++ {
			data, err := device.MIFARERead(byte(block))
			if err != nil {
				return err
			}
			printLine(out, "Block", block, data)
		}
		return nil
	})
}

func printCard(out io.Writer, uid mfrc522.UID) {
	_, _ = fmt.Fprintf(out, "Card UID=%s SAK=%02X Type=%s\n", uid, uid.SAK, uid.Type())
}

// printLine prints one block or page as hex followed by printable ASCII
func printLine(out io.Writer, label string, n int, data []byte) {
	var ascii strings.Builder
	for _, b := range data {
		if b >= 0x20 && b < 0x7F {
			ascii.WriteByte(b)
		} else {
			ascii.WriteByte('.')
		}
	}
	_, _ = fmt.Fprintf(out, "%s %03d: % X  |%s|\n", label, n, data, ascii.String())
}

func runWrite(ctx context.Context, device *mfrc522.Device, cfg *config, out io.Writer) error {
	if len(cfg.data) == 0 {
		return errors.New("nothing to write, use -data or -hex")
	}
	block := byte(cfg.block)

	waitCtx, cancel := waitContext(ctx, cfg)
	defer cancel()

	return device.WithCard(waitCtx, func(uid mfrc522.UID) error {
		printCard(out, uid)

		if uid.Type() == mfrc522.PICCTypeMIFAREUL {
			return writeUltralight(device, cfg, out)
		}
		if !uid.Type().IsMIFAREClassic() {
			return fmt.Errorf("%s is not a MIFARE card", uid.Type())
		}
		if (block == 0 || mfrc522.IsSectorTrailer(block)) && !cfg.force {
			return fmt.Errorf("block %d holds manufacturer data or keys, use -force", block)
		}
		if len(cfg.data) > mfrc522.MIFAREBlockSize {
			return fmt.Errorf("%d bytes do not fit a %d byte block", len(cfg.data), mfrc522.MIFAREBlockSize)
		}

		payload := make([]byte, mfrc522.MIFAREBlockSize)
		copy(payload, cfg.data)

		if err := device.Authenticate(cfg.keyType, block, cfg.key, uid); err != nil {
			return fmt.Errorf("authentication with key %s failed: %w", cfg.keyType, err)
		}
		if err := device.MIFAREWrite(block, payload); err != nil {
			return err
		}
		readBack, err := device.MIFARERead(block)
		if err != nil {
			return fmt.Errorf("verify read failed: %w", err)
		}
		if string(readBack) != string(payload) {
			return fmt.Errorf("verify failed: wrote % X, read % X", payload, readBack)
		}
		printLine(out, "Block", int(block), readBack)
		_, _ = fmt.Fprintln(out, "Write verified.")
		return nil
	})
}

// writeUltralight writes cfg.data over consecutive pages starting at
// cfg.block
func writeUltralight(device *mfrc522.Device, cfg *config, out io.Writer) error {
	if cfg.block < 4 && !cfg.force {
		return fmt.Errorf("page %d holds serial, lock or OTP bytes, use -force", cfg.block)
	}
	pages := (len(cfg.data) + mfrc522.UltralightPageSize - 1) / mfrc522.UltralightPageSize
	for i := range pages {
		page := make([]byte, mfrc522.UltralightPageSize)
		copy(page, cfg.data[i*mfrc522.UltralightPageSize:])
		if err := device.UltralightWrite(byte(cfg.block+i), page); err != nil {
			return fmt.Errorf("page %d: %w", cfg.block+i, err)
		}
	}
	_, _ = fmt.Fprintf(out, "Wrote %d page(s) from page %d.\n", pages, cfg.block)
	return nil
}

func runValue(ctx context.Context, device *mfrc522.Device, cfg *config, out io.Writer) error {
	block := byte(cfg.block)
	if block == 0 || mfrc522.IsSectorTrailer(block) {
		return fmt.Errorf("block %d cannot be a value block", block)
	}
	if cfg.amount < 0 {
		return errors.New("-amount must not be negative")
	}
	amount := int32(cfg.amount) //nolint:gosec // flag values are small

	waitCtx, cancel := waitContext(ctx, cfg)
	defer cancel()

	return device.WithCard(waitCtx, func(uid mfrc522.UID) error {
		printCard(out, uid)
		if !uid.Type().IsMIFAREClassic() {
			return fmt.Errorf("%s has no value blocks", uid.Type())
		}
		if err := device.Authenticate(cfg.keyType, block, cfg.key, uid); err != nil {
			return fmt.Errorf("authentication with key %s failed: %w", cfg.keyType, err)
		}

		var err error
		switch cfg.valueOp {
		case "get":
		case "set":
			err = device.MIFARESetValue(block, amount)
		case "inc":
			if err = device.MIFAREIncrement(block, amount); err == nil {
				err = device.MIFARETransfer(block)
			}
		case "dec":
			if err = device.MIFAREDecrement(block, amount); err == nil {
				err = device.MIFARETransfer(block)
			}
		default:
			return fmt.Errorf("unknown value operation %q", cfg.valueOp)
		}
		if err != nil {
			return err
		}

		value, err := device.MIFAREGetValue(block)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Block %d value: %d\n", block, value)
		return nil
	})
}

func runWatch(ctx context.Context, device *mfrc522.Device, _ *config, out io.Writer) error {
	session := polling.NewSession(device, polling.DefaultConfig(), polling.DeviceCallbacks{
		OnCardDetected: func(_ *mfrc522.Device, uid mfrc522.UID) error {
			_, _ = fmt.Fprintf(out, "%s detected: UID=%s Type=%s\n",
				time.Now().Format("15:04:05"), uid, uid.Type())
			return nil
		},
		OnCardChanged: func(_ *mfrc522.Device, uid mfrc522.UID) error {
			_, _ = fmt.Fprintf(out, "%s changed:  UID=%s Type=%s\n",
				time.Now().Format("15:04:05"), uid, uid.Type())
			return nil
		},
		OnCardRemoved: func(uid mfrc522.UID) {
			_, _ = fmt.Fprintf(out, "%s removed:  UID=%s\n", time.Now().Format("15:04:05"), uid)
		},
	})
	session.EnableRecovery(nil)

	_, _ = fmt.Fprintln(out, "Watching for cards. Press Ctrl+C to stop...")
	err := session.Run(ctx)

	m := session.GetMetrics()
	_, _ = fmt.Fprintf(out, "Polls: %d, errors: %d, cards: %d, recoveries: %d\n",
		m.PollCycles, m.PollErrors, m.CardsDetected, m.Recoveries)
	return err
}
