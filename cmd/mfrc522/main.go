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

// Command mfrc522 drives an MFRC522 reader from the shell: list readers,
// read and write MIFARE blocks, handle value blocks and watch the field.
//
//	mfrc522 [flags] scan|info|read|write|value|watch|stress
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/detection"
	_ "github.com/ZaparooProject/go-mfrc522/detection/i2c"
	_ "github.com/ZaparooProject/go-mfrc522/detection/spi"
	_ "github.com/ZaparooProject/go-mfrc522/detection/uart"
	"github.com/ZaparooProject/go-mfrc522/transport/i2c"
	"github.com/ZaparooProject/go-mfrc522/transport/spi"
	"github.com/ZaparooProject/go-mfrc522/transport/uart"
)

const usageText = `usage: mfrc522 [flags] <command>

commands:
  scan     list attached readers
  info     show the chip version of the reader
  read     dump a block, or a whole sector with -sector
  write    write -data (text) or -hex to -block
  value    value block operation: -op get|set|inc|dec -amount N
  watch    report cards entering and leaving the field
  stress   run -cycles write/read/verify rounds on -block

flags:
`

type config struct {
	command    string
	devicePath string
	logDir     string
	data       []byte
	valueOp    string
	key        mfrc522.Key
	keyType    mfrc522.KeyType
	timeout    time.Duration
	mode       detection.Mode
	block      int
	sector     int
	amount     int
	cycles     int
	debug      bool
	force      bool
}

// parseArgs parses the command line. Every command except scan needs a
// reader; -device picks one, otherwise the first detected is used.
func parseArgs(args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet("mfrc522", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}

	cfg := &config{}
	var (
		keyHex  string
		useKeyB bool
		modeArg string
		text    string
		hexData string
	)
	fs.StringVar(&cfg.devicePath, "device", "", "Device path (auto-detect if empty)")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug output")
	fs.StringVar(&cfg.logDir, "log-dir", "", "Write a debug session log into this directory")
	fs.StringVar(&modeArg, "mode", "safe", "Detection mode for scan and auto-detect: passive, safe or full")
	fs.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "How long to wait for a card")
	fs.StringVar(&keyHex, "key", "FFFFFFFFFFFF", "MIFARE Classic key as 12 hex digits")
	fs.BoolVar(&useKeyB, "key-b", false, "Authenticate with key B instead of key A")
	fs.IntVar(&cfg.block, "block", 4, "Block (Classic) or page (Ultralight) number")
	fs.IntVar(&cfg.sector, "sector", -1, "Sector to dump with read")
	fs.StringVar(&text, "data", "", "Text to write, zero padded to the block size")
	fs.StringVar(&hexData, "hex", "", "Hex bytes to write")
	fs.StringVar(&cfg.valueOp, "op", "get", "Value operation: get, set, inc or dec")
	fs.IntVar(&cfg.amount, "amount", 1, "Operand of value set/inc/dec")
	fs.IntVar(&cfg.cycles, "cycles", 10, "Rounds for stress")
	fs.BoolVar(&cfg.force, "force", false, "Allow writing block 0 and sector trailers")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errors.New("exactly one command expected")
	}
	cfg.command = fs.Arg(0)

	mode, err := detection.ParseMode(modeArg)
	if err != nil {
		return nil, err
	}
	cfg.mode = mode

	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid -key: %w", err)
	}
	if cfg.key, err = mfrc522.KeyFromBytes(keyBytes); err != nil {
		return nil, fmt.Errorf("invalid -key: %w", err)
	}
	cfg.keyType = mfrc522.KeyA
	if useKeyB {
		cfg.keyType = mfrc522.KeyB
	}

	if cfg.block < 0 || cfg.block > 0xFF {
		return nil, fmt.Errorf("block %d out of range", cfg.block)
	}

	switch {
	case text != "" && hexData != "":
		return nil, errors.New("-data and -hex are mutually exclusive")
	case hexData != "":
		if cfg.data, err = hex.DecodeString(strings.ReplaceAll(hexData, " ", "")); err != nil {
			return nil, fmt.Errorf("invalid -hex: %w", err)
		}
	case text != "":
		cfg.data = []byte(text)
	}

	if _, ok := commands[cfg.command]; !ok && cfg.command != "scan" {
		fs.Usage()
		return nil, fmt.Errorf("unknown command %q", cfg.command)
	}
	return cfg, nil
}

// newTransportFromDevice creates a new transport from a detected device.
func newTransportFromDevice(device detection.DeviceInfo) (mfrc522.Transport, error) {
	switch strings.ToLower(device.Transport) {
	case "uart":
		transport, err := uart.New(device.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return transport, nil
	case "i2c":
		transport, err := i2c.New(device.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport: %w", err)
		}
		return transport, nil
	case "spi":
		transport, err := spi.New(device.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", device.Transport)
	}
}

// transportKind guesses the bus from a device path
func transportKind(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "i2c"):
		return "i2c"
	case strings.Contains(lower, "spi"):
		return "spi"
	default:
		return "uart"
	}
}

// newTransport creates a transport for an explicit device path
func newTransport(path string) (mfrc522.Transport, error) {
	if path == "" {
		return nil, errors.New("empty device path")
	}
	return newTransportFromDevice(detection.DeviceInfo{Transport: transportKind(path), Path: path})
}

func connectToDevice(ctx context.Context, cfg *config) (*mfrc522.Device, error) {
	connectOpts := []mfrc522.ConnectOption{
		mfrc522.WithTransportFactory(newTransport),
		mfrc522.WithTransportFromDeviceFactory(newTransportFromDevice),
	}
	if cfg.devicePath == "" {
		mode := cfg.mode
		connectOpts = append(connectOpts,
			mfrc522.WithAutoDetection(),
			mfrc522.WithDeviceDetector(func(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
				opts.Mode = mode
				return detection.DetectAll(ctx, opts)
			}))
		mfrc522.Debugln("auto-detecting MFRC522 readers")
	}

	device, err := mfrc522.ConnectDevice(ctx, cfg.devicePath, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MFRC522: %w", err)
	}

	if version, err := device.Version(); err == nil {
		mfrc522.Debugf("chip: %s", version)
	}
	return device, nil
}

func run(ctx context.Context, cfg *config, out io.Writer) error {
	if cfg.command == "scan" {
		return runScan(ctx, cfg, out)
	}

	device, err := connectToDevice(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	return commands[cfg.command](ctx, device, cfg, out)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	cfg, err := parseArgs(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if cfg.debug {
		mfrc522.SetDebugEnabled(true)
	}
	if cfg.logDir != "" {
		path, err := mfrc522.InitSessionLog(cfg.logDir)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stderr, "Session log: %s\n", path)
		defer func() { _ = mfrc522.CloseSessionLog() }()
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			// User requested shutdown, exit cleanly
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
