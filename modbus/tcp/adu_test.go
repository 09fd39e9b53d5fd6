// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"testing"

	"github.com/sbhome/modbusgw/modbus"
)

func TestDecodeHeaderRoundTrip(t *testing.T) {
	header := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x11}

	tid, proto, length, unit, err := DecodeHeader(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tid != 0x0007 || proto != 0 || length != 5 || unit != 0x11 {
		t.Fatalf("unexpected decode: tid=%d proto=%d length=%d unit=%d", tid, proto, length, unit)
	}
}

func TestDecodeHeaderWrongSize(t *testing.T) {
	if _, _, _, _, err := DecodeHeader([]byte{0x00, 0x01}); err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestEncodeProducesValidMBAPFrame(t *testing.T) {
	adu := DecodeBody(7, 0, 0x11, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         []byte{0x02, 0x00, 0x64, 0x00, 0x32},
	})

	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x07, 0x11, 0x03, 0x02, 0x00, 0x64, 0x00, 0x32}
	if string(raw) != string(want) {
		t.Fatalf("unexpected encoding:\ngot  % x\nwant % x", raw, want)
	}
}

func TestEncodeRejectsOversizedPDU(t *testing.T) {
	adu := DecodeBody(1, 0, 1, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         make([]byte, MaxADUSize),
	})

	if _, err := adu.Encode(); err == nil {
		t.Fatal("expected error for oversized ADU")
	}
}
