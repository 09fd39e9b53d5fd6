// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

// Exception is a Modbus exception response from the addressed slave — a
// successful transaction from the wire's perspective, not a transport
// failure (§4.1).
type Exception struct {
	FunctionCode byte
	Code         byte
}

func (e *Exception) Error() string {
	return fmt.Sprintf("modbus: slave returned exception %#02x for function %#02x", e.Code, e.FunctionCode)
}

// TransportErrorKind enumerates the ways C1 can fail to complete a
// transaction on the bus (§4.1).
type TransportErrorKind int

const (
	NotConnected TransportErrorKind = iota
	Timeout
	FramingError
	CrcMismatch
	IoError
)

func (k TransportErrorKind) String() string {
	switch k {
	case NotConnected:
		return "not_connected"
	case Timeout:
		return "timeout"
	case FramingError:
		return "framing_error"
	case CrcMismatch:
		return "crc_mismatch"
	case IoError:
		return "io_error"
	default:
		return "unknown"
	}
}

// TransportError wraps a bus-level fault with the kind the gateway must
// map to a north-side exception code (§4.3, §7).
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("modbus: transport error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("modbus: transport error (%s)", e.Kind)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a TransportError of the given kind. err may
// be nil.
func NewTransportError(kind TransportErrorKind, err error) *TransportError {
	return &TransportError{Kind: kind, Err: err}
}

// GatewayExceptionCode maps a downstream failure (slave exception or
// transport fault) to the exception code a northbound front must embed in
// its response PDU (§4.3 "Exception mapping from downstream").
func GatewayExceptionCode(err error) (code byte, ok bool) {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc.Code, true
	}
	var te *TransportError
	if errors.As(err, &te) {
		switch te.Kind {
		case Timeout, NotConnected:
			return ExcGatewayTargetDeviceFailedToRespond, true
		case CrcMismatch, FramingError, IoError:
			return ExcSlaveDeviceFailure, true
		}
	}
	return 0, false
}
