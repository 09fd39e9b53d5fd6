// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package jsonfront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sbhome/modbusgw/modbus"
)

// Dispatcher is the arbiter-shaped surface requests are submitted to.
type Dispatcher interface {
	ReadCoils(ctx context.Context, unit byte, addr, count uint16) ([]bool, error)
	ReadDiscreteInputs(ctx context.Context, unit byte, addr, count uint16) ([]bool, error)
	ReadHoldingRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error)
	ReadInputRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error)
	WriteSingleCoil(ctx context.Context, unit byte, addr uint16, value bool) error
	WriteSingleRegister(ctx context.Context, unit byte, addr, value uint16) error
}

// Request is the wire schema of one JSON line (§4.4). The MQTT bridge (C5)
// parses the same schema from its request topic payload (§4.5).
type Request struct {
	Cmd     string          `json:"cmd"`
	Unit    int             `json:"unit"`
	Address int             `json:"address"`
	Count   int             `json:"count"`
	Value   json.RawMessage `json:"value"`
}

// Reply is the wire schema of the matching response line.
type Reply struct {
	Ok        bool     `json:"ok"`
	Registers []uint16 `json:"registers,omitempty"`
	Bits      []bool   `json:"bits,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Handle executes req against d and builds the reply (§4.4's command
// table). Shared verbatim between the JSON/TCP front and the MQTT bridge.
func Handle(ctx context.Context, d Dispatcher, req Request) Reply {
	unit := byte(req.Unit)
	addr := uint16(req.Address)
	count := uint16(req.Count)

	switch req.Cmd {
	case "read_holding":
		values, err := d.ReadHoldingRegisters(ctx, unit, addr, count)
		if err != nil {
			return Reply{Ok: false, Error: errorReason(err)}
		}
		return Reply{Ok: true, Registers: values}

	case "read_input":
		values, err := d.ReadInputRegisters(ctx, unit, addr, count)
		if err != nil {
			return Reply{Ok: false, Error: errorReason(err)}
		}
		return Reply{Ok: true, Registers: values}

	case "read_coils":
		bits, err := d.ReadCoils(ctx, unit, addr, count)
		if err != nil {
			return Reply{Ok: false, Error: errorReason(err)}
		}
		return Reply{Ok: true, Bits: bits}

	case "read_discrete":
		bits, err := d.ReadDiscreteInputs(ctx, unit, addr, count)
		if err != nil {
			return Reply{Ok: false, Error: errorReason(err)}
		}
		return Reply{Ok: true, Bits: bits}

	case "write":
		var value int
		if err := json.Unmarshal(req.Value, &value); err != nil {
			return Reply{Ok: false, Error: "bad_request"}
		}
		if err := d.WriteSingleRegister(ctx, unit, addr, uint16(value)); err != nil {
			return Reply{Ok: false, Error: errorReason(err)}
		}
		return Reply{Ok: true}

	case "write_coil":
		var value bool
		if err := json.Unmarshal(req.Value, &value); err != nil {
			return Reply{Ok: false, Error: "bad_request"}
		}
		if err := d.WriteSingleCoil(ctx, unit, addr, value); err != nil {
			return Reply{Ok: false, Error: errorReason(err)}
		}
		return Reply{Ok: true}

	default:
		return Reply{Ok: false, Error: "unknown_cmd"}
	}
}

// errorReason renders a downstream failure as the short textual tag §4.4
// promises in its error field.
func errorReason(err error) string {
	var exc *modbus.Exception
	if errors.As(err, &exc) {
		return fmt.Sprintf("exception_%d", exc.Code)
	}
	var te *modbus.TransportError
	if errors.As(err, &te) {
		return te.Kind.String()
	}
	return "io_error"
}
