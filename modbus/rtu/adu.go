// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/sbhome/modbusgw/modbus"
	"github.com/sbhome/modbusgw/modbus/crc"
)

// ApplicationDataUnit is a Modbus RTU frame: slave address, PDU, and the
// trailing CRC-16/MODBUS that covers everything before it.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode parses a raw RTU frame and verifies its CRC.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	length := len(raw)
	if length < MinSize {
		return nil, fmt.Errorf("modbus: frame length %d does not meet minimum %d", length, MinSize)
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		return nil, &CRCError{Expected: c.Value(), Actual: checksum}
	}

	return &ApplicationDataUnit{
		SlaveID: raw[0],
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: raw[1],
			Data:         raw[2 : length-2],
		},
	}, nil
}

// Encode serializes the ADU to a frame: SlaveID(1) + FunctionCode(1) + Data(N) + CRC(2).
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		return nil, fmt.Errorf("modbus: frame length %d exceeds maximum %d", length, MaxSize)
	}

	raw := make([]byte, length)
	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	copy(raw[2:], adu.Pdu.Data)

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := c.Value()
	raw[length-2] = byte(checksum)
	raw[length-1] = byte(checksum >> 8)

	return raw, nil
}

// CRCError reports a checksum mismatch on an otherwise well-formed frame.
type CRCError struct {
	Expected uint16
	Actual   uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("modbus: frame crc %#04x does not match expected %#04x", e.Actual, e.Expected)
}
