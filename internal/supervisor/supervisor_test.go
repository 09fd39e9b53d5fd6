// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/sbhome/modbusgw/internal/config"
)

// TestRunStartsAndShutsDownCleanly exercises the full lifecycle against
// loopback ports: both fronts must bind, and cancelling ctx must bring Run
// back within the drain deadline without the master ever being reachable
// (there is no real serial device in this test).
func TestRunStartsAndShutsDownCleanly(t *testing.T) {
	cfg := &config.Config{
		ModbusRTU: config.ModbusRTUConfig{Port: "/dev/does-not-exist", BaudRate: 19200, Timeout: 50 * time.Millisecond},
		ModbusTCP: config.ModbusTCPConfig{ListenPort: 18502},
		JSONTCP:   config.JSONTCPConfig{ListenPort: 18520},
	}

	sup := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(50 * time.Millisecond) // let the fronts bind
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error from Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down within the deadline")
	}
}

func TestNewSkipsMQTTBridgeWhenBrokerUnset(t *testing.T) {
	cfg := &config.Config{ModbusTCP: config.ModbusTCPConfig{ListenPort: 18602}, JSONTCP: config.JSONTCPConfig{ListenPort: 18620}}
	sup := New(cfg)
	if sup.mqttBridge != nil {
		t.Fatal("expected no mqtt bridge when broker is unset")
	}
}

func TestNewBuildsMQTTBridgeWhenBrokerSet(t *testing.T) {
	cfg := &config.Config{
		ModbusTCP: config.ModbusTCPConfig{ListenPort: 18702},
		JSONTCP:   config.JSONTCPConfig{ListenPort: 18720},
		MQTT:      config.MQTTConfig{Broker: "localhost", Port: 1883},
	}
	sup := New(cfg)
	if sup.mqttBridge == nil {
		t.Fatal("expected an mqtt bridge when broker is set")
	}
}

func TestCatalogSeededFromConfig(t *testing.T) {
	cfg := &config.Config{
		ModbusTCP: config.ModbusTCPConfig{ListenPort: 18802},
		JSONTCP:   config.JSONTCPConfig{ListenPort: 18820},
		Slaves:    []config.SlaveConfig{{Unit: 3, Name: "boiler"}},
	}
	sup := New(cfg)
	e, ok := sup.Catalog().Get(3)
	if !ok || e.Name != "boiler" {
		t.Fatalf("expected catalog to be seeded from config, got %+v ok=%v", e, ok)
	}
}
