// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcpfront

import (
	"context"
	"encoding/binary"

	"github.com/sbhome/modbusgw/modbus"
)

// Dispatcher is the arbiter-shaped surface the front submits translated
// requests to (§4.2: "Submits through C2 to C1").
type Dispatcher interface {
	ReadCoils(ctx context.Context, unit byte, addr, count uint16) ([]bool, error)
	ReadDiscreteInputs(ctx context.Context, unit byte, addr, count uint16) ([]bool, error)
	ReadHoldingRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error)
	ReadInputRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error)
	WriteSingleCoil(ctx context.Context, unit byte, addr uint16, value bool) error
	WriteSingleRegister(ctx context.Context, unit byte, addr, value uint16) error
	WriteMultipleCoils(ctx context.Context, unit byte, addr uint16, bits []bool) error
	WriteMultipleRegisters(ctx context.Context, unit byte, addr uint16, values []uint16) error
	MaskWriteRegister(ctx context.Context, unit byte, addr, andMask, orMask uint16) error
}

// funcHandler implements one row of the §4.3 function-code table. It
// validates the request payload on its own (before C1 is ever touched) and
// returns either a response payload or an exception code — never both.
type funcHandler func(ctx context.Context, d Dispatcher, unit byte, data []byte) (respData []byte, excCode byte)

var handlers = map[byte]funcHandler{
	modbus.FuncCodeReadCoils:              handleReadBits(true),
	modbus.FuncCodeReadDiscreteInputs:     handleReadBits(false),
	modbus.FuncCodeReadHoldingRegisters:   handleReadRegisters(true),
	modbus.FuncCodeReadInputRegisters:     handleReadRegisters(false),
	modbus.FuncCodeWriteSingleCoil:        handleWriteSingleCoil,
	modbus.FuncCodeWriteSingleRegister:    handleWriteSingleRegister,
	modbus.FuncCodeWriteMultipleCoils:     handleWriteMultipleCoils,
	modbus.FuncCodeWriteMultipleRegisters: handleWriteMultipleRegisters,
	modbus.FuncCodeMaskWriteRegister:      handleMaskWriteRegister,
}

// dispatch translates one request PDU into an RTU request, submits it
// through d, and returns the response PDU — building an exception PDU
// itself whenever validation fails or the downstream call does (§4.3).
func dispatch(ctx context.Context, d Dispatcher, unit byte, req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if unit == modbus.BroadcastUnitID {
		return modbus.ExceptionPDU(req.FunctionCode, modbus.ExcIllegalDataAddress)
	}

	h, ok := handlers[req.FunctionCode]
	if !ok {
		return modbus.ExceptionPDU(req.FunctionCode, modbus.ExcIllegalFunction)
	}

	respData, excCode := h(ctx, d, unit, req.Data)
	if excCode != 0 {
		return modbus.ExceptionPDU(req.FunctionCode, excCode)
	}
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func downstreamExcCode(err error) byte {
	if err == nil {
		return 0
	}
	if code, ok := modbus.GatewayExceptionCode(err); ok {
		return code
	}
	return modbus.ExcSlaveDeviceFailure
}

func handleReadBits(coils bool) funcHandler {
	return func(ctx context.Context, d Dispatcher, unit byte, data []byte) ([]byte, byte) {
		if len(data) != 4 {
			return nil, modbus.ExcIllegalDataValue
		}
		addr := binary.BigEndian.Uint16(data[0:])
		count := binary.BigEndian.Uint16(data[2:])
		if count == 0 || count > modbus.MaxReadBits {
			return nil, modbus.ExcIllegalDataValue
		}

		var bits []bool
		var err error
		if coils {
			bits, err = d.ReadCoils(ctx, unit, addr, count)
		} else {
			bits, err = d.ReadDiscreteInputs(ctx, unit, addr, count)
		}
		if err != nil {
			return nil, downstreamExcCode(err)
		}
		packed := modbus.PackBits(bits)
		resp := make([]byte, 1+len(packed))
		resp[0] = byte(len(packed))
		copy(resp[1:], packed)
		return resp, 0
	}
}

func handleReadRegisters(holding bool) funcHandler {
	return func(ctx context.Context, d Dispatcher, unit byte, data []byte) ([]byte, byte) {
		if len(data) != 4 {
			return nil, modbus.ExcIllegalDataValue
		}
		addr := binary.BigEndian.Uint16(data[0:])
		count := binary.BigEndian.Uint16(data[2:])
		if count == 0 || count > modbus.MaxReadRegisters {
			return nil, modbus.ExcIllegalDataValue
		}

		var values []uint16
		var err error
		if holding {
			values, err = d.ReadHoldingRegisters(ctx, unit, addr, count)
		} else {
			values, err = d.ReadInputRegisters(ctx, unit, addr, count)
		}
		if err != nil {
			return nil, downstreamExcCode(err)
		}
		encoded := modbus.EncodeRegisters(values)
		resp := make([]byte, 1+len(encoded))
		resp[0] = byte(len(encoded))
		copy(resp[1:], encoded)
		return resp, 0
	}
}

func handleWriteSingleCoil(ctx context.Context, d Dispatcher, unit byte, data []byte) ([]byte, byte) {
	if len(data) != 4 {
		return nil, modbus.ExcIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:])
	value := binary.BigEndian.Uint16(data[2:])
	if value != 0xFF00 && value != 0x0000 {
		return nil, modbus.ExcIllegalDataValue
	}
	if err := d.WriteSingleCoil(ctx, unit, addr, value == 0xFF00); err != nil {
		return nil, downstreamExcCode(err)
	}
	return append([]byte(nil), data...), 0
}

func handleWriteSingleRegister(ctx context.Context, d Dispatcher, unit byte, data []byte) ([]byte, byte) {
	if len(data) != 4 {
		return nil, modbus.ExcIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:])
	value := binary.BigEndian.Uint16(data[2:])
	if err := d.WriteSingleRegister(ctx, unit, addr, value); err != nil {
		return nil, downstreamExcCode(err)
	}
	return append([]byte(nil), data...), 0
}

func handleWriteMultipleCoils(ctx context.Context, d Dispatcher, unit byte, data []byte) ([]byte, byte) {
	if len(data) < 5 {
		return nil, modbus.ExcIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:])
	qty := binary.BigEndian.Uint16(data[2:])
	byteCount := data[4]
	if qty == 0 || qty > modbus.MaxWriteMultipleCoils {
		return nil, modbus.ExcIllegalDataValue
	}
	if int(byteCount) != (int(qty)+7)/8 || len(data) != 5+int(byteCount) {
		return nil, modbus.ExcIllegalDataValue
	}
	bits := modbus.UnpackBits(data[5:], int(qty))
	if err := d.WriteMultipleCoils(ctx, unit, addr, bits); err != nil {
		return nil, downstreamExcCode(err)
	}
	return data[0:4], 0
}

func handleWriteMultipleRegisters(ctx context.Context, d Dispatcher, unit byte, data []byte) ([]byte, byte) {
	if len(data) < 5 {
		return nil, modbus.ExcIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:])
	qty := binary.BigEndian.Uint16(data[2:])
	byteCount := data[4]
	if qty == 0 || qty > modbus.MaxWriteMultipleRegisters {
		return nil, modbus.ExcIllegalDataValue
	}
	if int(byteCount) != int(qty)*2 || len(data) != 5+int(byteCount) {
		return nil, modbus.ExcIllegalDataValue
	}
	values := modbus.DecodeRegisters(data[5:])
	if err := d.WriteMultipleRegisters(ctx, unit, addr, values); err != nil {
		return nil, downstreamExcCode(err)
	}
	return data[0:4], 0
}

func handleMaskWriteRegister(ctx context.Context, d Dispatcher, unit byte, data []byte) ([]byte, byte) {
	if len(data) != 6 {
		return nil, modbus.ExcIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:])
	andMask := binary.BigEndian.Uint16(data[2:])
	orMask := binary.BigEndian.Uint16(data[4:])
	if err := d.MaskWriteRegister(ctx, unit, addr, andMask, orMask); err != nil {
		return nil, downstreamExcCode(err)
	}
	return append([]byte(nil), data...), 0
}
