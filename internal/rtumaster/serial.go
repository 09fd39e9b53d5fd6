// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtumaster

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

// SerialConfig describes the bus master's serial session (§3 "Serial Session").
// RS485 is carried for config-schema parity with the surrounding project's
// hardware profiles but is not wired to the driver — see DESIGN.md.
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string // "N", "E", "O"
	StopBits int

	ResponseTimeout time.Duration
	RequestPause    time.Duration

	RS485              bool
	DelayRtsBeforeSend time.Duration
	DelayRtsAfterSend  time.Duration
	RtsHighDuringSend  bool
	RtsHighAfterSend   bool
	RxDuringTx         bool
}

// serialPort owns the underlying OS handle. open_state is modeled as
// port == nil (closed) vs port != nil (open); open/close mutate it under
// mu. The mutex here is a last line of defense against misuse if the
// master were ever driven directly — in normal operation the arbiter (C2)
// is what guarantees §4.1's single-caller-at-a-time discipline.
type serialPort struct {
	serial.Config

	mu   sync.Mutex
	port io.ReadWriteCloser
}

func newSerialPort(cfg SerialConfig) *serialPort {
	return &serialPort{
		Config: serial.Config{
			Address:  cfg.Device,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			Parity:   cfg.Parity,
			StopBits: cfg.StopBits,
			Timeout:  cfg.ResponseTimeout,
		},
	}
}

func (s *serialPort) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *serialPort) openLocked() error {
	if s.port != nil {
		return nil
	}
	port, err := serial.Open(&s.Config)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", s.Config.Address, err)
	}
	s.port = port
	slog.Info("serial port opened", "device", s.Config.Address, "baud", s.Config.BaudRate)
	return nil
}

func (s *serialPort) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *serialPort) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}
