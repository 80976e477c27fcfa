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
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"syscall"
)

// StatusCode is the outcome of a protocol operation. Every operation in
// this package resolves to exactly one StatusCode; see Status.
type StatusCode int

const (
	// StatusOK indicates success
	StatusOK StatusCode = iota
	// StatusError indicates a protocol, parity or buffer error reported by the chip
	StatusError
	// StatusCollision indicates more than one PICC answered
	StatusCollision
	// StatusTimeout indicates no answer within the bounded poll
	StatusTimeout
	// StatusNoRoom indicates the response did not fit the expected buffer
	StatusNoRoom
	// StatusInternalError indicates an invariant violation inside the library
	StatusInternalError
	// StatusInvalid indicates malformed caller input
	StatusInvalid
	// StatusCRCWrong indicates a CRC_A mismatch on received data
	StatusCRCWrong
	// StatusMifareNack indicates the PICC answered with a MIFARE NAK
	StatusMifareNack
)

var statusNames = [...]string{
	StatusOK:            "OK",
	StatusError:         "error in communication",
	StatusCollision:     "collision detected",
	StatusTimeout:       "timeout in communication",
	StatusNoRoom:        "a buffer is not big enough",
	StatusInternalError: "internal error in the code, should not happen",
	StatusInvalid:       "invalid argument",
	StatusCRCWrong:      "the CRC_A does not match",
	StatusMifareNack:    "a MIFARE PICC responded with NAK",
}

// String returns a human readable description of the status
func (s StatusCode) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("unknown status %d", int(s))
}

// StatusCodeError is returned by every protocol operation that does not
// complete with StatusOK.
type StatusCodeError struct {
	Err  error      // Underlying cause, may be nil
	Op   string     // Operation that failed
	Code StatusCode // Outcome
}

func (e *StatusCodeError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		_, _ = sb.WriteString(e.Op)
		_, _ = sb.WriteString(": ")
	}
	_, _ = sb.WriteString(e.Code.String())
	if e.Err != nil {
		_, _ = sb.WriteString(": ")
		_, _ = sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a StatusCodeError carrying the same code, so
// errors.Is(err, ErrTimeout) matches any timeout regardless of Op.
func (e *StatusCodeError) Is(target error) bool {
	var t *StatusCodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Status sentinels for errors.Is
var (
	ErrError      = &StatusCodeError{Code: StatusError}
	ErrCollision  = &StatusCodeError{Code: StatusCollision}
	ErrTimeout    = &StatusCodeError{Code: StatusTimeout}
	ErrNoRoom     = &StatusCodeError{Code: StatusNoRoom}
	ErrInternal   = &StatusCodeError{Code: StatusInternalError}
	ErrInvalid    = &StatusCodeError{Code: StatusInvalid}
	ErrCRCWrong   = &StatusCodeError{Code: StatusCRCWrong}
	ErrMifareNack = &StatusCodeError{Code: StatusMifareNack}
)

// Causes wrapped inside StatusCodeError
var (
	ErrNotValueBlock  = errors.New("block is not formatted as a value block")
	ErrSessionActive  = errors.New("an authenticated session is active, call StopCrypto1 first")
	ErrInvalidKey     = errors.New("key must be exactly 6 bytes")
	ErrUIDTooShort    = errors.New("UID must be at least 4 bytes")
	ErrCollPosInvalid = errors.New("collision position not valid")
)

// Transport errors - potentially retryable
var (
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTransportRead     = errors.New("transport read failed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrTransportNotReady = errors.New("transport not ready")
	ErrInvalidResponse   = errors.New("invalid response format")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrInvalidParameter  = errors.New("invalid parameter")
)

func newStatusError(op string, code StatusCode, cause error) *StatusCodeError {
	return &StatusCodeError{Op: op, Code: code, Err: cause}
}

// Status maps an error returned by this package to its StatusCode.
// nil maps to StatusOK, errors that carry no status (a failing
// transport for example) map to StatusError.
func Status(err error) StatusCode {
	if err == nil {
		return StatusOK
	}
	var se *StatusCodeError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusError
}

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether re-running the whole select/operate sequence
// may succeed. The protocol core itself never retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	var se *StatusCodeError
	if errors.As(err, &se) {
		//nolint:exhaustive // remaining codes are permanent
		switch se.Code {
		case StatusTimeout, StatusCollision, StatusCRCWrong, StatusError:
			return true
		default:
			return false
		}
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device/connection is gone
// and polling should stop entirely. This is distinct from IsRetryable which
// indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating device disconnection.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}

	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportRead, ErrorTypeTransient)
}

// NewTransportClosedError creates an error for use of a closed transport (permanent)
func NewTransportClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

// NewInvalidResponseError creates an invalid response error (transient).
// On a register bus this is usually line noise, so it is worth a retry.
func NewInvalidResponseError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrInvalidResponse, ErrorTypeTransient)
}

// NewInvalidParameterError creates an invalid parameter error (permanent)
func NewInvalidParameterError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrInvalidParameter, ErrorTypePermanent)
}
