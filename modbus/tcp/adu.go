// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp implements the Modbus TCP Application Data Unit: a 7-byte
// MBAP header (transaction id, protocol id, length, unit id) followed by
// the PDU, with no CRC — the carrier already guarantees integrity.
package tcp

import (
	"fmt"

	"github.com/sbhome/modbusgw/modbus"
)

const (
	// HeaderSize is the fixed MBAP header: transaction id, protocol id,
	// length, and unit id.
	HeaderSize = 7
	// MaxADUSize is the largest ADU a Modbus TCP peer may send: 7-byte
	// header plus a 253-byte PDU.
	MaxADUSize = 260
)

// ApplicationDataUnit is a decoded MBAP frame.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        byte
	Pdu           modbus.ProtocolDataUnit
}

// DecodeHeader parses the 7-byte MBAP header and returns the declared
// payload length (PDU bytes, i.e. length field minus the unit id byte).
func DecodeHeader(header []byte) (tid, proto uint16, length int, unit byte, err error) {
	if len(header) != HeaderSize {
		err = fmt.Errorf("modbus: mbap header must be %d bytes, got %d", HeaderSize, len(header))
		return
	}
	tid = uint16(header[0])<<8 | uint16(header[1])
	proto = uint16(header[2])<<8 | uint16(header[3])
	declared := uint16(header[4])<<8 | uint16(header[5])
	unit = header[6]
	length = int(declared) - 1
	return
}

// DecodeBody attaches a PDU (function code plus data, already validated for
// length) to a parsed header.
func DecodeBody(tid, proto uint16, unit byte, pdu modbus.ProtocolDataUnit) *ApplicationDataUnit {
	return &ApplicationDataUnit{
		TransactionID: tid,
		ProtocolID:    proto,
		UnitID:        unit,
		Pdu:           pdu,
	}
}

// Encode serializes adu as a complete MBAP frame.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := 1 + 1 + len(adu.Pdu.Data) // unit id + function code + data
	if HeaderSize-1+length > MaxADUSize {
		return nil, fmt.Errorf("modbus: encoded ADU length %d exceeds maximum %d", HeaderSize-1+length, MaxADUSize)
	}
	raw := make([]byte, 6, 6+length)
	raw[0] = byte(adu.TransactionID >> 8)
	raw[1] = byte(adu.TransactionID)
	raw[2] = byte(adu.ProtocolID >> 8)
	raw[3] = byte(adu.ProtocolID)
	raw[4] = byte(length >> 8)
	raw[5] = byte(length)
	raw = append(raw, adu.UnitID, adu.Pdu.FunctionCode)
	raw = append(raw, adu.Pdu.Data...)
	return raw, nil
}
