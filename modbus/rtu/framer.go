// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sbhome/modbusgw/modbus"
)

// ErrRequestTimedOut is returned by ReadFrame when no complete response
// frame arrives before its deadline.
var ErrRequestTimedOut = errors.New("modbus: request timed out")

// InvalidLengthError reports a byte-count field that disagrees with the
// maximum frame size while a response is being read.
type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// CalculateResponseLength estimates the size of the response ADU a request
// provokes, so the master (§4.1) knows how long the full reply takes to
// arrive on the wire before it starts reading.
func CalculateResponseLength(adu []byte) int {
	length := MinSize
	switch adu[1] {
	case modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadCoils:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadWriteMultipleRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleRegisters:
		length += 4
	case modbus.FuncCodeMaskWriteRegister:
		length += 6
	case modbus.FuncCodeReadFIFOQueue,
		modbus.FuncCodeReadDeviceIdentification:
		// length is data-dependent; the caller's timing budget only needs a
		// lower bound here, so MinSize stands.
	}
	return length
}

// frameStage is where frameReader is within one RTU response frame.
type frameStage int

const (
	stageSlaveID frameStage = iota
	stageFunctionCode
	stageByteCount
	stagePayload
	stageCRC
)

// replyShape classifies how a function code's normal (non-exception) reply
// is framed, so frameReader knows how many payload bytes follow the
// function code byte (or whether a length byte precedes them).
func replyShape(functionCode byte) (hasByteCountField bool, fixedPayload byte, ok bool) {
	switch functionCode {
	case modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadWriteMultipleRegisters,
		modbus.FuncCodeReadFIFOQueue:
		return true, 0, true
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleRegisters,
		modbus.FuncCodeWriteMultipleCoils:
		return false, 4, true
	case modbus.FuncCodeMaskWriteRegister:
		return false, 6, true
	default:
		return false, 0, false
	}
}

// frameReader accumulates one RTU frame byte by byte, tracking slave ID,
// function code (or exception echo), an optional length field, and the
// trailing CRC — it stops as soon as the frame is complete rather than
// relying on inter-character gap detection to find the end.
type frameReader struct {
	slaveID      byte
	functionCode byte

	stage      frameStage
	remaining  byte
	crcSeen    int
	data       []byte
	n          int
}

func newFrameReader(slaveID, functionCode byte) *frameReader {
	return &frameReader{
		slaveID:      slaveID,
		functionCode: functionCode,
		data:         make([]byte, MaxSize),
	}
}

// feed consumes one byte read off the wire. It returns the completed frame
// once the trailing CRC has been read, or an error if the frame is
// malformed.
func (f *frameReader) feed(b byte) ([]byte, error) {
	switch f.stage {
	case stageSlaveID:
		if b != f.slaveID {
			return nil, nil
		}
		f.push(b)
		f.stage = stageFunctionCode
	case stageFunctionCode:
		switch {
		case b == f.functionCode:
			hasByteCount, fixed, ok := replyShape(b)
			if !ok {
				return nil, fmt.Errorf("functioncode not handled: %d", b)
			}
			f.push(b)
			if hasByteCount {
				f.stage = stageByteCount
			} else {
				f.remaining = fixed
				f.stage = stagePayload
			}
		case b == f.functionCode+0x80:
			f.push(b)
			f.remaining = 1 // exception code
			f.stage = stagePayload
		}
	case stageByteCount:
		if b > MaxSize-5 || b == 0 {
			return nil, &InvalidLengthError{Length: b}
		}
		f.remaining = b
		f.push(b)
		f.stage = stagePayload
	case stagePayload:
		f.push(b)
		f.remaining--
		if f.remaining == 0 {
			f.stage = stageCRC
		}
	case stageCRC:
		f.push(b)
		f.crcSeen++
		if f.crcSeen == 2 {
			return f.data[:f.n], nil
		}
	}
	return nil, nil
}

func (f *frameReader) push(b byte) {
	f.data[f.n] = b
	f.n++
}

// ReadFrame reads one RTU response frame addressed to slaveID/functionCode
// from r, one byte at a time, until the frame is complete, ctx is
// cancelled, or deadline passes.
func ReadFrame(ctx context.Context, slaveID, functionCode byte, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	reader := newFrameReader(slaveID, functionCode)
	buf := make([]byte, 1)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return nil, ErrRequestTimedOut
		}

		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			return nil, err
		}

		frame, err := reader.feed(buf[0])
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}
	}
}
