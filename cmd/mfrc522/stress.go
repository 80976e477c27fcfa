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
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
)

// StressTestResult holds the outcome of a stress run
type StressTestResult struct {
	ByStatus  map[string]int
	UID       string
	CrashFile string
	Passed    int
	Failed    int
	Retried   int
	Duration  time.Duration
	Slowest   time.Duration
}

// CrashReport contains all information for debugging a failure.
type CrashReport struct {
	Timestamp    time.Time  `json:"timestamp"`
	CardUID      string     `json:"card_uid"`
	CardType     string     `json:"card_type"`
	Error        string     `json:"error"`
	Status       string     `json:"status"`
	ExpectedHex  string     `json:"expected_hex,omitempty"`
	ActualHex    string     `json:"actual_hex,omitempty"`
	OperationLog []LogEntry `json:"operation_log"`
	Block        int        `json:"block"`
	Cycle        int        `json:"cycle"`
}

// LogEntry represents a single operation in the log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	DataHex   string    `json:"data_hex,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
}

// stressRound is one write, read back and compare on a single selection
type stressRound struct {
	uid      mfrc522.UID
	log      []LogEntry
	expected []byte
	actual   []byte
}

func (r *stressRound) record(op string, data []byte, err error) {
	entry := LogEntry{Timestamp: time.Now(), Operation: op, Success: err == nil}
	if len(data) > 0 {
		entry.DataHex = fmt.Sprintf("% X", data)
	}
	if err != nil {
		entry.Error = err.Error()
	}
	r.log = append(r.log, entry)
}

// errMismatch marks a read back that differs from what was written
var errMismatch = errors.New("read back differs from written data")

func runStress(ctx context.Context, device *mfrc522.Device, cfg *config, out io.Writer) error {
	block := byte(cfg.block)
	if block == 0 || mfrc522.IsSectorTrailer(block) {
		return fmt.Errorf("refusing to stress block %d", block)
	}
	if cfg.cycles < 1 {
		return errors.New("-cycles must be at least 1")
	}

	_, _ = fmt.Fprintf(out, "Stress: %d write/read/verify cycles on block %d\n", cfg.cycles, block)
	result := &StressTestResult{ByStatus: make(map[string]int)}
	start := time.Now()

	for cycle := 1; cycle <= cfg.cycles; cycle++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		round := &stressRound{}
		attempts := 0
		began := time.Now()
		err := device.WithCard(ctx, func(uid mfrc522.UID) error {
			attempts++
			round.uid = uid
			return stressCycle(device, cfg, block, round)
		})
		if took := time.Since(began); took > result.Slowest {
			result.Slowest = took
		}
		if attempts > 1 {
			result.Retried++
		}
		result.UID = round.uid.String()

		if err == nil {
			result.Passed++
			_, _ = fmt.Fprintf(out, "  [%3d] OK\n", cycle)
			continue
		}

		result.Failed++
		result.ByStatus[mfrc522.Status(err).String()]++
		_, _ = fmt.Fprintf(out, "  [%3d] FAIL: %v\n", cycle, err)
		if result.CrashFile == "" && errors.Is(err, errMismatch) {
			report := createCrashReport(round, err, block, cycle)
			if name, writeErr := writeCrashReportToFile(report, cfg.logDir); writeErr != nil {
				_, _ = fmt.Fprintf(out, "  [!] Failed to write crash report: %v\n", writeErr)
			} else {
				result.CrashFile = name
				_, _ = fmt.Fprintf(out, "  Crash report: %s\n", name)
			}
		}
	}

	result.Duration = time.Since(start)
	printStressSummary(out, result)
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d cycles failed", result.Failed, cfg.cycles)
	}
	return nil
}

func stressCycle(device *mfrc522.Device, cfg *config, block byte, round *stressRound) error {
	payload := make([]byte, mfrc522.MIFAREBlockSize)
	if _, err := rand.Read(payload); err != nil {
		return fmt.Errorf("generate payload: %w", err)
	}
	round.expected = payload
	round.actual = nil

	err := device.Authenticate(cfg.keyType, block, cfg.key, round.uid)
	round.record("authenticate", nil, err)
	if err != nil {
		return err
	}

	err = device.MIFAREWrite(block, payload)
	round.record("write", payload, err)
	if err != nil {
		return err
	}

	actual, err := device.MIFARERead(block)
	round.record("read", actual, err)
	if err != nil {
		return err
	}
	round.actual = actual
	if !bytes.Equal(actual, payload) {
		return errMismatch
	}
	return nil
}

func createCrashReport(round *stressRound, err error, block byte, cycle int) *CrashReport {
	report := &CrashReport{
		Timestamp:    time.Now(),
		CardUID:      round.uid.String(),
		CardType:     round.uid.Type().String(),
		Error:        err.Error(),
		Status:       mfrc522.Status(err).String(),
		OperationLog: round.log,
		Block:        int(block),
		Cycle:        cycle,
	}
	if len(round.expected) > 0 {
		report.ExpectedHex = fmt.Sprintf("% X", round.expected)
	}
	if len(round.actual) > 0 {
		report.ActualHex = fmt.Sprintf("% X", round.actual)
	}
	return report
}

func writeCrashReportToFile(report *CrashReport, dir string) (string, error) {
	timestamp := report.Timestamp.Format("20060102_150405")
	filename := fmt.Sprintf("stress_crash_%s_%s.json", report.CardUID, timestamp)
	if dir != "" {
		filename = filepath.Join(dir, filename)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}
	return filename, nil
}

func printStressSummary(out io.Writer, result *StressTestResult) {
	_, _ = fmt.Fprintln(out, "========================================")
	_, _ = fmt.Fprintf(out, "Card:     %s\n", result.UID)
	_, _ = fmt.Fprintf(out, "Passed:   %d\n", result.Passed)
	_, _ = fmt.Fprintf(out, "Failed:   %d\n", result.Failed)
	_, _ = fmt.Fprintf(out, "Retried:  %d\n", result.Retried)
	for status, n := range result.ByStatus {
		_, _ = fmt.Fprintf(out, "  %-12s %d\n", status, n)
	}
	_, _ = fmt.Fprintf(out, "Slowest:  %s\n", result.Slowest.Round(time.Millisecond))
	_, _ = fmt.Fprintf(out, "Duration: %s\n", result.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintln(out, "========================================")
}
