// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mqttfront implements the MQTT Bridge Front (C5): it subscribes to
// a request topic, decodes each payload with the JSON/TCP front's schema,
// dispatches it through the arbiter, and publishes the reply on a response
// topic (§4.5). Reconnection uses a fixed backoff rather than the client
// library's built-in auto-reconnect, to match the bridge's original
// fixed-delay-then-retry behavior exactly.
package mqttfront

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sbhome/modbusgw/internal/jsonfront"
)

// ReconnectBackoff is the fixed delay between connection attempts (§4.5).
const ReconnectBackoff = 5 * time.Second

// Config describes the broker connection and topic names.
type Config struct {
	Broker        string
	ClientID      string
	Username      string
	Password      string
	RequestTopic  string
	ResponseTopic string
}

// DefaultRequestTopic and DefaultResponseTopic are used when Config leaves
// the topic fields empty.
const (
	DefaultRequestTopic  = "modbus/rtu/request"
	DefaultResponseTopic = "modbus/rtu/response"
)

// Bridge is the MQTT Bridge Front.
type Bridge struct {
	cfg        Config
	dispatcher jsonfront.Dispatcher

	client   mqtt.Client
	connLost chan struct{}
}

// New builds a bridge. The MQTT client is constructed but not connected
// until Run is called.
func New(cfg Config, dispatcher jsonfront.Dispatcher) *Bridge {
	if cfg.RequestTopic == "" {
		cfg.RequestTopic = DefaultRequestTopic
	}
	if cfg.ResponseTopic == "" {
		cfg.ResponseTopic = DefaultResponseTopic
	}
	b := &Bridge{cfg: cfg, dispatcher: dispatcher, connLost: make(chan struct{}, 1)}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(false).
		SetConnectTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slog.Info("mqtt bridge: connected", "broker", cfg.Broker)
		if token := c.Subscribe(cfg.RequestTopic, 0, b.onMessage); token.Wait() && token.Error() != nil {
			slog.Error("mqtt bridge: subscribe failed", "topic", cfg.RequestTopic, "err", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt bridge: connection lost", "err", err)
		select {
		case b.connLost <- struct{}{}:
		default:
		}
	})

	b.client = mqtt.NewClient(opts)
	return b
}

// Run connects and keeps the bridge connected until ctx is cancelled,
// reconnecting after ReconnectBackoff whenever the connection drops.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		if token := b.client.Connect(); token.Wait() && token.Error() != nil {
			slog.Error("mqtt bridge: connect failed", "err", token.Error())
		} else {
			select {
			case <-ctx.Done():
				b.client.Disconnect(250)
				return nil
			case <-b.connLost:
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ReconnectBackoff):
		}
	}
}

// Close disconnects the bridge, if connected.
func (b *Bridge) Close() error {
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	return nil
}

func (b *Bridge) onMessage(client mqtt.Client, msg mqtt.Message) {
	var req jsonfront.Request
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		slog.Warn("mqtt bridge: malformed request payload", "err", err)
		b.publish(client, jsonfront.Reply{Ok: false, Error: "bad_request"})
		return
	}

	reply := jsonfront.Handle(context.Background(), b.dispatcher, req)
	b.publish(client, reply)
}

func (b *Bridge) publish(client mqtt.Client, reply jsonfront.Reply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		slog.Error("mqtt bridge: failed to encode reply", "err", err)
		return
	}
	if token := client.Publish(b.cfg.ResponseTopic, 0, false, payload); token.Wait() && token.Error() != nil {
		slog.Error("mqtt bridge: publish failed", "topic", b.cfg.ResponseTopic, "err", token.Error())
	}
}
