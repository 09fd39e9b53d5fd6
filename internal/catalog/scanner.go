// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sbhome/modbusgw/modbus"
)

// Prober is the arbiter-shaped surface the scanner probes through.
type Prober interface {
	ReadHoldingRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error)
}

// ScanConfig bounds one sweep: every unit in [Start, End] is probed at
// ProbeAddress (§4.5).
type ScanConfig struct {
	Start        byte
	End          byte
	ProbeAddress uint16
	Timeout      time.Duration
}

const defaultScanProbeTimeout = 500 * time.Millisecond

// Scan sweeps [cfg.Start, cfg.End] sequentially through prober, recording in
// c any unit that produces a reply — success or a Modbus exception both
// count, since either means a device answered at that address; only a
// transport-level fault (timeout, CRC mismatch, no connection, ...) is
// swallowed as "nothing there". Must run through the arbiter like any other
// caller, so it never overlaps a front-initiated transaction (§4.2).
//
// Intended to run as a background task after the fronts are already
// serving — it must never block their startup (§4.5).
func Scan(ctx context.Context, prober Prober, cfg ScanConfig, c *Catalog) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultScanProbeTimeout
	}

	found := 0
	for unit := cfg.Start; ; unit++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		_, err := prober.ReadHoldingRegisters(probeCtx, unit, cfg.ProbeAddress, 1)
		cancel()

		if err == nil || isSlaveException(err) {
			c.Add(unit)
			found++
		}

		if unit == cfg.End {
			break
		}
	}
	slog.Info("slave catalog: scan complete", "start", cfg.Start, "end", cfg.End, "found", found)
}

func isSlaveException(err error) bool {
	var exc *modbus.Exception
	return errors.As(err, &exc)
}
