// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcpfront

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sbhome/modbusgw/modbus"
	"github.com/sbhome/modbusgw/modbus/tcp"
)

// TestServeReadHoldingRegisters drives one MBAP request/reply through serve
// over a net.Pipe, bypassing the real listener.
func TestServeReadHoldingRegisters(t *testing.T) {
	d := &fakeDispatcher{registers: []uint16{0x00AA}}
	s := &Server{Dispatcher: d}

	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.serve(ctx, server)

	req := tcp.DecodeBody(1, 0, 1, pduReadHolding(0, 1))
	raw, err := req.Encode()
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	client.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write(raw); err != nil {
		t.Fatalf("write request: %v", err)
	}

	header := make([]byte, tcp.HeaderSize)
	if _, err := io.ReadFull(client, header); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	_, _, length, _, err := tcp.DecodeHeader(header)
	if err != nil {
		t.Fatalf("decode response header: %v", err)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(client, body); err != nil {
		t.Fatalf("read response body: %v", err)
	}

	want := []byte{0x03, 0x02, 0x00, 0xAA}
	if string(body) != string(want) {
		t.Fatalf("unexpected response body: % x", body)
	}
}

func pduReadHolding(addr, count uint16) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         []byte{byte(addr >> 8), byte(addr), byte(count >> 8), byte(count)},
	}
}
