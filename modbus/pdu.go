// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the wire-independent vocabulary shared by the RTU
// and TCP sides of the gateway: the protocol data unit, function codes,
// exception codes, and the typed errors used to carry transport faults
// and slave-originated exceptions across package boundaries.
package modbus

// ProtocolDataUnit is the function code plus its payload, identical on the
// wire for RTU and TCP — only the surrounding framing differs (CRC vs MBAP).
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Function codes supported by the gateway (§6).
const (
	FuncCodeReadCoils           = 0x01
	FuncCodeReadDiscreteInputs  = 0x02
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04

	FuncCodeWriteSingleCoil       = 0x05
	FuncCodeWriteSingleRegister   = 0x06
	FuncCodeWriteMultipleCoils    = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
	FuncCodeMaskWriteRegister     = 0x16

	// Recognized by the RTU frame reader's length table but not exposed
	// through the gateway's TCP/JSON/MQTT fronts.
	FuncCodeReadWriteMultipleRegisters = 0x17
	FuncCodeReadFIFOQueue              = 0x18
	FuncCodeReadDeviceIdentification   = 0x2B
)

// Modbus exception codes (§4.3, §4.1).
const (
	ExcIllegalFunction                   = 0x01
	ExcIllegalDataAddress                = 0x02
	ExcIllegalDataValue                  = 0x03
	ExcSlaveDeviceFailure                = 0x04
	ExcGatewayTargetDeviceFailedToRespond = 0x0B
)

// Quantity bounds per Modbus specification (§3).
const (
	MaxReadRegisters        = 125
	MaxReadBits             = 2000
	MaxWriteMultipleRegisters = 123
	MaxWriteMultipleCoils     = 1968

	MinUnitID = 1
	MaxUnitID = 247
	BroadcastUnitID = 0
)

// ExceptionPDU builds the standard two-byte exception response PDU for fc.
func ExceptionPDU(fc byte, code byte) ProtocolDataUnit {
	return ProtocolDataUnit{FunctionCode: fc | 0x80, Data: []byte{code}}
}
