// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtumaster is the RTU Master (C1): it owns the serial port,
// issues one Modbus transaction at a time, and maps wire-level faults to
// the typed errors in the modbus package. It does not retry and it does
// not serialize concurrent callers — that is the arbiter's job (C2); the
// master assumes it is only ever driven by one goroutine at a time.
package rtumaster

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sbhome/modbusgw/modbus"
	"github.com/sbhome/modbusgw/modbus/rtu"
)

// Master drives the Modbus RTU bus. The zero value is not usable; build one
// with New.
type Master struct {
	port         *serialPort
	responseTO   time.Duration
	requestPause time.Duration
	gap          time.Duration
	charTime     time.Duration

	lastFrameEnd time.Time
}

// New builds a Master for cfg. The port is not opened until Open is called.
func New(cfg SerialConfig) *Master {
	responseTO := cfg.ResponseTimeout
	if responseTO <= 0 {
		responseTO = defaultResponseTimeout
	}
	return &Master{
		port:         newSerialPort(cfg),
		responseTO:   responseTO,
		requestPause: cfg.RequestPause,
		gap:          interFrameGap(cfg.BaudRate),
		charTime:     characterTime(cfg.BaudRate),
	}
}

// Open attempts to open the serial session. A failure is non-fatal to the
// caller: the master simply stays disconnected and every subsequent
// request resolves to TransportError(NotConnected) until Open succeeds
// (§3 "Serial Session").
func (m *Master) Open(_ context.Context) error {
	return m.port.open()
}

// Close releases the serial port. Safe to call on an already-closed master.
func (m *Master) Close() error {
	return m.port.close()
}

// Connected reports whether the serial session is currently open.
func (m *Master) Connected() bool {
	return m.port.isOpen()
}

// ReadCoils issues function code 0x01.
func (m *Master) ReadCoils(ctx context.Context, unit byte, addr, count uint16) ([]bool, error) {
	resp, err := m.execute(ctx, unit, readRequest(modbus.FuncCodeReadCoils, addr, count))
	if err != nil {
		return nil, err
	}
	return decodeBitsResponse(resp)
}

// ReadDiscreteInputs issues function code 0x02.
func (m *Master) ReadDiscreteInputs(ctx context.Context, unit byte, addr, count uint16) ([]bool, error) {
	resp, err := m.execute(ctx, unit, readRequest(modbus.FuncCodeReadDiscreteInputs, addr, count))
	if err != nil {
		return nil, err
	}
	return decodeBitsResponse(resp)
}

// ReadHoldingRegisters issues function code 0x03.
func (m *Master) ReadHoldingRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error) {
	resp, err := m.execute(ctx, unit, readRequest(modbus.FuncCodeReadHoldingRegisters, addr, count))
	if err != nil {
		return nil, err
	}
	return decodeRegistersResponse(resp)
}

// ReadInputRegisters issues function code 0x04.
func (m *Master) ReadInputRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error) {
	resp, err := m.execute(ctx, unit, readRequest(modbus.FuncCodeReadInputRegisters, addr, count))
	if err != nil {
		return nil, err
	}
	return decodeRegistersResponse(resp)
}

// WriteSingleCoil issues function code 0x05.
func (m *Master) WriteSingleCoil(ctx context.Context, unit byte, addr uint16, value bool) error {
	v := uint16(0x0000)
	if value {
		v = 0xFF00
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], addr)
	binary.BigEndian.PutUint16(data[2:], v)
	_, err := m.execute(ctx, unit, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteSingleCoil, Data: data})
	return err
}

// WriteSingleRegister issues function code 0x06.
func (m *Master) WriteSingleRegister(ctx context.Context, unit byte, addr, value uint16) error {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], addr)
	binary.BigEndian.PutUint16(data[2:], value)
	_, err := m.execute(ctx, unit, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteSingleRegister, Data: data})
	return err
}

// WriteMultipleCoils issues function code 0x0F.
func (m *Master) WriteMultipleCoils(ctx context.Context, unit byte, addr uint16, bits []bool) error {
	packed := modbus.PackBits(bits)
	data := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint16(data[0:], addr)
	binary.BigEndian.PutUint16(data[2:], uint16(len(bits)))
	data[4] = byte(len(packed))
	copy(data[5:], packed)
	_, err := m.execute(ctx, unit, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteMultipleCoils, Data: data})
	return err
}

// WriteMultipleRegisters issues function code 0x10.
func (m *Master) WriteMultipleRegisters(ctx context.Context, unit byte, addr uint16, values []uint16) error {
	encoded := modbus.EncodeRegisters(values)
	data := make([]byte, 5+len(encoded))
	binary.BigEndian.PutUint16(data[0:], addr)
	binary.BigEndian.PutUint16(data[2:], uint16(len(values)))
	data[4] = byte(len(encoded))
	copy(data[5:], encoded)
	_, err := m.execute(ctx, unit, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteMultipleRegisters, Data: data})
	return err
}

// MaskWriteRegister issues function code 0x16.
func (m *Master) MaskWriteRegister(ctx context.Context, unit byte, addr, andMask, orMask uint16) error {
	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data[0:], addr)
	binary.BigEndian.PutUint16(data[2:], andMask)
	binary.BigEndian.PutUint16(data[4:], orMask)
	_, err := m.execute(ctx, unit, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeMaskWriteRegister, Data: data})
	return err
}

func readRequest(fc byte, addr, count uint16) modbus.ProtocolDataUnit {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], addr)
	binary.BigEndian.PutUint16(data[2:], count)
	return modbus.ProtocolDataUnit{FunctionCode: fc, Data: data}
}

func decodeBitsResponse(resp modbus.ProtocolDataUnit) ([]bool, error) {
	if len(resp.Data) < 1 {
		return nil, modbus.NewTransportError(modbus.FramingError, fmt.Errorf("short bit response"))
	}
	byteCount := int(resp.Data[0])
	if len(resp.Data) < 1+byteCount {
		return nil, modbus.NewTransportError(modbus.FramingError, fmt.Errorf("truncated bit response"))
	}
	return modbus.UnpackBits(resp.Data[1:1+byteCount], byteCount*8), nil
}

func decodeRegistersResponse(resp modbus.ProtocolDataUnit) ([]uint16, error) {
	if len(resp.Data) < 1 {
		return nil, modbus.NewTransportError(modbus.FramingError, fmt.Errorf("short register response"))
	}
	byteCount := int(resp.Data[0])
	if len(resp.Data) < 1+byteCount {
		return nil, modbus.NewTransportError(modbus.FramingError, fmt.Errorf("truncated register response"))
	}
	return modbus.DecodeRegisters(resp.Data[1 : 1+byteCount]), nil
}

// execute runs one full RTU transaction: encode, wait out the inter-frame
// gap, write, wait the transmission time of the request and the expected
// reply, then read
// and decode the response — mapping every failure mode to the taxonomy in
// §4.1. It is not safe for concurrent use; callers serialize through the
// arbiter (C2).
func (m *Master) execute(ctx context.Context, unit byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	select {
	case <-ctx.Done():
		return modbus.ProtocolDataUnit{}, ctx.Err()
	default:
	}

	if !m.port.isOpen() {
		return modbus.ProtocolDataUnit{}, modbus.NewTransportError(modbus.NotConnected, errors.New("serial port not open"))
	}

	req := &rtu.ApplicationDataUnit{SlaveID: unit, Pdu: pdu}
	raw, err := req.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, modbus.NewTransportError(modbus.FramingError, err)
	}

	m.port.mu.Lock()
	defer m.port.mu.Unlock()
	if m.port.port == nil {
		return modbus.ProtocolDataUnit{}, modbus.NewTransportError(modbus.NotConnected, errors.New("serial port not open"))
	}

	m.awaitInterFrameGap()

	slog.Debug("rtu: write", "unit", unit, "frame", hex.EncodeToString(raw))
	if _, err := m.port.port.Write(raw); err != nil {
		m.lastFrameEnd = time.Now()
		return modbus.ProtocolDataUnit{}, modbus.NewTransportError(modbus.IoError, err)
	}

	respLen := rtu.CalculateResponseLength(raw)
	time.Sleep(m.charTime * time.Duration(len(raw)+respLen))

	// Once the request is on the wire the transaction runs to completion or
	// timeout: the caller's deadline can shorten the wait, but cancelling
	// the caller's ctx does not abort the read.
	deadline := time.Now().Add(m.responseTO)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	data, err := rtu.ReadFrame(context.WithoutCancel(ctx), unit, pdu.FunctionCode, m.port.port, deadline)
	m.lastFrameEnd = time.Now()
	if err != nil {
		return modbus.ProtocolDataUnit{}, classifyReadError(err)
	}
	slog.Debug("rtu: read", "unit", unit, "frame", hex.EncodeToString(data))

	respAdu, err := rtu.Decode(data)
	if err != nil {
		var crcErr *rtu.CRCError
		if errors.As(err, &crcErr) {
			return modbus.ProtocolDataUnit{}, modbus.NewTransportError(modbus.CrcMismatch, err)
		}
		return modbus.ProtocolDataUnit{}, modbus.NewTransportError(modbus.FramingError, err)
	}
	if respAdu.SlaveID != unit {
		return modbus.ProtocolDataUnit{}, modbus.NewTransportError(modbus.FramingError,
			fmt.Errorf("response unit %d does not match request unit %d", respAdu.SlaveID, unit))
	}

	if respAdu.Pdu.FunctionCode == pdu.FunctionCode|0x80 {
		code := byte(0)
		if len(respAdu.Pdu.Data) > 0 {
			code = respAdu.Pdu.Data[0]
		}
		return modbus.ProtocolDataUnit{}, &modbus.Exception{FunctionCode: pdu.FunctionCode, Code: code}
	}

	return respAdu.Pdu, nil
}

func (m *Master) awaitInterFrameGap() {
	if m.lastFrameEnd.IsZero() {
		return
	}
	elapsed := time.Since(m.lastFrameEnd)
	if wait := m.gap - elapsed; wait > 0 {
		time.Sleep(wait)
	}
	if m.requestPause > 0 {
		time.Sleep(m.requestPause)
	}
}

func classifyReadError(err error) error {
	if errors.Is(err, rtu.ErrRequestTimedOut) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return modbus.NewTransportError(modbus.Timeout, err)
	}
	if errors.Is(err, io.EOF) {
		return modbus.NewTransportError(modbus.IoError, err)
	}
	var invalidLen *rtu.InvalidLengthError
	if errors.As(err, &invalidLen) {
		return modbus.NewTransportError(modbus.FramingError, err)
	}
	return modbus.NewTransportError(modbus.IoError, err)
}
