// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package supervisor implements the Supervisor (C7): it owns every other
// component's lifecycle and enforces the startup/shutdown ordering in
// §4.6 — open the master before anything else, bring each front up
// independently (a bind failure is fatal only to that front), then let the
// optional scan run in the background once everything else is serving.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sbhome/modbusgw/internal/arbiter"
	"github.com/sbhome/modbusgw/internal/catalog"
	"github.com/sbhome/modbusgw/internal/config"
	"github.com/sbhome/modbusgw/internal/jsonfront"
	"github.com/sbhome/modbusgw/internal/mqttfront"
	"github.com/sbhome/modbusgw/internal/rtumaster"
	"github.com/sbhome/modbusgw/internal/tcpfront"
)

// Supervisor owns the master, the arbiter, the slave catalog, and every
// front, and sequences their startup and shutdown.
type Supervisor struct {
	master  *rtumaster.Master
	arb     *arbiter.Arbiter
	catalog *catalog.Catalog

	tcpFrontMu sync.Mutex
	tcpFront   *tcpfront.Server
	jsonFront  *jsonfront.Server
	mqttBridge *mqttfront.Bridge

	tcpPort   int
	tcpMbPort int

	autoscan bool
	scanCfg  catalog.ScanConfig
}

// New wires every component from cfg. Nothing is started yet.
func New(cfg *config.Config) *Supervisor {
	master := rtumaster.New(rtumaster.SerialConfig{
		Device:          cfg.ModbusRTU.Port,
		BaudRate:        cfg.ModbusRTU.BaudRate,
		DataBits:        cfg.ModbusRTU.DataBits,
		Parity:          cfg.ModbusRTU.Parity,
		StopBits:        cfg.ModbusRTU.StopBits,
		ResponseTimeout: cfg.ModbusRTU.Timeout,
		RequestPause:    cfg.ModbusRTU.RequestPause,
	})
	arb := arbiter.New(master)

	seed := make([]catalog.Entry, 0, len(cfg.Slaves))
	for _, s := range cfg.Slaves {
		seed = append(seed, catalog.Entry{Unit: byte(s.Unit), Name: s.Name, Description: s.Description})
	}
	cat := catalog.New(seed)

	tcpPort := cfg.ModbusTCP.ListenPort
	if tcpPort == 0 {
		tcpPort = tcpfront.DefaultPort
	}
	jsonPort := cfg.JSONTCP.ListenPort
	if jsonPort == 0 {
		jsonPort = jsonfront.DefaultPort
	}
	mbPort := cfg.ModbusTCP.MbPort
	if mbPort == 0 {
		mbPort = tcpfront.FallbackPort
	}

	s := &Supervisor{
		master:    master,
		arb:       arb,
		catalog:   cat,
		tcpFront:  tcpfront.NewServer(fmt.Sprintf(":%d", tcpPort), arb),
		jsonFront: jsonfront.NewServer(fmt.Sprintf(":%d", jsonPort), arb),
		tcpPort:   tcpPort,
		tcpMbPort: mbPort,
		autoscan:  cfg.SlavesAutoscanOnStart,
		scanCfg: catalog.ScanConfig{
			Start:        byte(cfg.SlavesScanStart),
			End:          byte(cfg.SlavesScanEnd),
			ProbeAddress: uint16(cfg.SlavesScanProbeAddr),
		},
	}

	if cfg.MQTT.Broker != "" {
		s.mqttBridge = mqttfront.New(mqttfront.Config{
			Broker:        fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Broker, cfg.MQTT.Port),
			ClientID:      cfg.MQTT.ClientID,
			Username:      cfg.MQTT.Username,
			Password:      cfg.MQTT.Password,
			RequestTopic:  cfg.MQTT.RequestTopic,
			ResponseTopic: cfg.MQTT.ResponseTopic,
		}, arb)
	}

	return s
}

// Catalog exposes the slave catalog, e.g. for a future diagnostic surface.
func (s *Supervisor) Catalog() *catalog.Catalog { return s.catalog }

// Run executes the full lifecycle: open the master (non-fatal on failure,
// §7 "Lifecycle"), bring up every front independently, optionally kick off
// a background scan, then block until ctx is cancelled and shut everything
// down in reverse order.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.master.Open(ctx); err != nil {
		slog.Warn("rtu master: failed to open serial port at startup, continuing disconnected", "err", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runTCPFront(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.jsonFront.Start(ctx); err != nil {
			slog.Error("json/tcp front: stopped", "err", err)
		}
	}()

	if s.mqttBridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.mqttBridge.Run(ctx); err != nil {
				slog.Error("mqtt bridge: stopped", "err", err)
			}
		}()
	}

	if s.autoscan {
		go catalog.Scan(ctx, s.arb, s.scanCfg, s.catalog)
	}

	<-ctx.Done()
	slog.Info("supervisor: shutting down")

	s.closeTCPFront()
	s.jsonFront.Close()
	if s.mqttBridge != nil {
		s.mqttBridge.Close()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.drainDeadline()):
		slog.Warn("supervisor: fronts did not drain before deadline, closing master anyway")
	}

	if err := s.master.Close(); err != nil {
		return fmt.Errorf("rtu master: close: %w", err)
	}
	return nil
}

// runTCPFront starts the Modbus TCP front, retrying once on tcpMbPort if the
// configured port could not be bound for lack of privilege (§6: "fallback
// 5020 when unprivileged"). Every swap of the active *tcpfront.Server goes
// through tcpFrontMu so Close (called concurrently from Run's shutdown path)
// always closes whichever listener is actually serving.
func (s *Supervisor) runTCPFront(ctx context.Context) {
	if err := s.tcpFront.Start(ctx); err != nil {
		if !tcpfront.IsPermissionError(err) || s.tcpPort == s.tcpMbPort {
			slog.Error("modbus tcp front: stopped", "err", err)
			return
		}
		slog.Warn("modbus tcp front: bind failed, retrying on fallback port",
			"port", s.tcpPort, "fallback_port", s.tcpMbPort, "err", err)

		s.tcpFrontMu.Lock()
		s.tcpFront = tcpfront.NewServer(fmt.Sprintf(":%d", s.tcpMbPort), s.arb)
		front := s.tcpFront
		s.tcpFrontMu.Unlock()

		if err := front.Start(ctx); err != nil {
			slog.Error("modbus tcp front: stopped", "err", err)
		}
	}
}

// closeTCPFront closes whichever *tcpfront.Server is currently active.
func (s *Supervisor) closeTCPFront() {
	s.tcpFrontMu.Lock()
	front := s.tcpFront
	s.tcpFrontMu.Unlock()
	front.Close()
}

// drainDeadline bounds how long shutdown waits for in-flight work before
// closing the master out from under it: a fixed 2 s, not derived from the
// configured RTU response timeout (see DESIGN.md).
func (s *Supervisor) drainDeadline() time.Duration {
	return 2 * time.Second
}
