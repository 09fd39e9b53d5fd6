// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcpfront

import (
	"context"
	"testing"

	"github.com/sbhome/modbusgw/modbus"
)

// fakeDispatcher drives function-code handlers without a real arbiter.
type fakeDispatcher struct {
	bits      []bool
	registers []uint16
	err       error

	lastAddr  uint16
	lastCount uint16
	lastBits  []bool
	lastRegs  []uint16
	lastAnd   uint16
	lastOr    uint16
}

func (f *fakeDispatcher) ReadCoils(ctx context.Context, unit byte, addr, count uint16) ([]bool, error) {
	f.lastAddr, f.lastCount = addr, count
	return f.bits, f.err
}
func (f *fakeDispatcher) ReadDiscreteInputs(ctx context.Context, unit byte, addr, count uint16) ([]bool, error) {
	f.lastAddr, f.lastCount = addr, count
	return f.bits, f.err
}
func (f *fakeDispatcher) ReadHoldingRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error) {
	f.lastAddr, f.lastCount = addr, count
	return f.registers, f.err
}
func (f *fakeDispatcher) ReadInputRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error) {
	f.lastAddr, f.lastCount = addr, count
	return f.registers, f.err
}
func (f *fakeDispatcher) WriteSingleCoil(ctx context.Context, unit byte, addr uint16, value bool) error {
	f.lastAddr = addr
	return f.err
}
func (f *fakeDispatcher) WriteSingleRegister(ctx context.Context, unit byte, addr, value uint16) error {
	f.lastAddr = addr
	return f.err
}
func (f *fakeDispatcher) WriteMultipleCoils(ctx context.Context, unit byte, addr uint16, bits []bool) error {
	f.lastAddr, f.lastBits = addr, bits
	return f.err
}
func (f *fakeDispatcher) WriteMultipleRegisters(ctx context.Context, unit byte, addr uint16, values []uint16) error {
	f.lastAddr, f.lastRegs = addr, values
	return f.err
}
func (f *fakeDispatcher) MaskWriteRegister(ctx context.Context, unit byte, addr, andMask, orMask uint16) error {
	f.lastAddr, f.lastAnd, f.lastOr = addr, andMask, orMask
	return f.err
}

func TestDispatchReadHoldingRegisters(t *testing.T) {
	d := &fakeDispatcher{registers: []uint16{0x1234, 0x5678}}
	req := modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x00, 0x00, 0x02},
	}

	resp := dispatch(context.Background(), d, 1, req)

	if resp.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
		t.Fatalf("unexpected function code %#02x", resp.FunctionCode)
	}
	want := []byte{0x04, 0x12, 0x34, 0x56, 0x78}
	if string(resp.Data) != string(want) {
		t.Fatalf("unexpected response data: %x", resp.Data)
	}
}

func TestDispatchBroadcastUnitRejected(t *testing.T) {
	d := &fakeDispatcher{registers: []uint16{1}}
	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0, 0, 0, 1}}

	resp := dispatch(context.Background(), d, modbus.BroadcastUnitID, req)

	assertException(t, resp, modbus.FuncCodeReadHoldingRegisters, modbus.ExcIllegalDataAddress)
}

func TestDispatchUnknownFunctionCode(t *testing.T) {
	d := &fakeDispatcher{}
	req := modbus.ProtocolDataUnit{FunctionCode: 0x2B, Data: nil}

	resp := dispatch(context.Background(), d, 1, req)

	assertException(t, resp, 0x2B, modbus.ExcIllegalFunction)
}

func TestDispatchReadRegistersBadQuantity(t *testing.T) {
	d := &fakeDispatcher{}
	req := modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x00, 0x00, 0x00}, // count == 0
	}

	resp := dispatch(context.Background(), d, 1, req)

	assertException(t, resp, modbus.FuncCodeReadHoldingRegisters, modbus.ExcIllegalDataValue)
}

func TestDispatchDownstreamExceptionPropagates(t *testing.T) {
	d := &fakeDispatcher{err: &modbus.Exception{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Code: modbus.ExcIllegalDataAddress}}
	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0, 0, 0, 1}}

	resp := dispatch(context.Background(), d, 1, req)

	assertException(t, resp, modbus.FuncCodeReadHoldingRegisters, modbus.ExcIllegalDataAddress)
}

func TestDispatchDownstreamTransportErrorMapsToGatewayFailure(t *testing.T) {
	d := &fakeDispatcher{err: modbus.NewTransportError(modbus.Timeout, nil)}
	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0, 0, 0, 1}}

	resp := dispatch(context.Background(), d, 1, req)

	assertException(t, resp, modbus.FuncCodeReadHoldingRegisters, modbus.ExcGatewayTargetDeviceFailedToRespond)
}

func TestDispatchWriteMultipleCoilsByteCountMismatch(t *testing.T) {
	d := &fakeDispatcher{}
	req := modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleCoils,
		// qty=9 needs byteCount=2, but we declare 1 and supply only 1 byte.
		Data: []byte{0x00, 0x00, 0x00, 0x09, 0x01, 0xFF},
	}

	resp := dispatch(context.Background(), d, 1, req)

	assertException(t, resp, modbus.FuncCodeWriteMultipleCoils, modbus.ExcIllegalDataValue)
}

func TestDispatchWriteSingleCoilEchoesRequest(t *testing.T) {
	d := &fakeDispatcher{}
	req := modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleCoil,
		Data:         []byte{0x00, 0x05, 0xFF, 0x00},
	}

	resp := dispatch(context.Background(), d, 1, req)

	if resp.FunctionCode != modbus.FuncCodeWriteSingleCoil {
		t.Fatalf("unexpected function code %#02x", resp.FunctionCode)
	}
	if string(resp.Data) != string(req.Data) {
		t.Fatalf("expected echoed request data, got %x", resp.Data)
	}
	if d.lastAddr != 0x0005 {
		t.Fatalf("expected dispatcher to receive addr 5, got %d", d.lastAddr)
	}
}

func assertException(t *testing.T, resp modbus.ProtocolDataUnit, fc, code byte) {
	t.Helper()
	if resp.FunctionCode != fc|0x80 {
		t.Fatalf("expected exception function code %#02x, got %#02x", fc|0x80, resp.FunctionCode)
	}
	if len(resp.Data) != 1 || resp.Data[0] != code {
		t.Fatalf("expected exception code %#02x, got %x", code, resp.Data)
	}
}
