// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the Modbus RTU wire codec: ADU encode/decode with
// CRC-16/MODBUS framing, and the incremental frame reader used by the bus
// master to detect end-of-frame without relying on inter-character gaps
// alone.
package rtu

const (
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5
)
