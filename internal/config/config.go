// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the gateway's configuration from a YAML file on
// disk via Viper — a self-contained binary's config store, not a remote
// collaborator process (§6).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration structure (§6).
type Config struct {
	ModbusRTU ModbusRTUConfig `mapstructure:"modbus_rtu"`
	ModbusTCP ModbusTCPConfig `mapstructure:"modbus_tcp"`
	JSONTCP   JSONTCPConfig   `mapstructure:"json_tcp"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`

	Slaves                []SlaveConfig `mapstructure:"slaves"`
	SlavesAutoscanOnStart bool          `mapstructure:"slaves_autoscan_on_start"`
	SlavesScanStart       int           `mapstructure:"slaves_scan_start"`
	SlavesScanEnd         int           `mapstructure:"slaves_scan_end"`
	SlavesScanProbeAddr   int           `mapstructure:"slaves_scan_probe_address"`

	Log LogConfig `mapstructure:"log"`
}

// ModbusRTUConfig describes the south-side serial session (§4.1, §3).
type ModbusRTUConfig struct {
	Port     string        `mapstructure:"port"`
	BaudRate int           `mapstructure:"baudrate"`
	DataBits int           `mapstructure:"databits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stopbits"`
	Timeout  time.Duration `mapstructure:"timeout"`

	RequestPause time.Duration `mapstructure:"request_pause"`
}

// ModbusTCPConfig describes the Modbus TCP Front (C3, §4.3, §6).
type ModbusTCPConfig struct {
	ListenPort int `mapstructure:"listen_port"` // privileged default (502)
	MbPort     int `mapstructure:"mb_port"`     // unprivileged fallback (5020)
}

// JSONTCPConfig describes the JSON/TCP Front (C4, §4.4, §6).
type JSONTCPConfig struct {
	ListenPort int `mapstructure:"listen_port"`
}

// MQTTConfig describes the MQTT Bridge Front (C5, §4.5, §6).
type MQTTConfig struct {
	Broker        string `mapstructure:"broker"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	ClientID      string `mapstructure:"client_id"`
	RequestTopic  string `mapstructure:"request_topic"`
	ResponseTopic string `mapstructure:"response_topic"`
}

// SlaveConfig seeds one Slave Catalog entry (§3 "Slave Entry").
type SlaveConfig struct {
	Unit        int    `mapstructure:"unit"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// LogConfig controls where and how verbosely the gateway logs.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // empty means stdout
}

// LoadConfig loads configuration from configFile, or from the default
// search path (/etc/modbusgw, $HOME/.modbusgw, .) when configFile is empty.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusgw/")
		v.AddConfigPath("$HOME/.modbusgw")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ModbusRTU.Parity = strings.ToUpper(cfg.ModbusRTU.Parity)
	if cfg.ModbusRTU.Timeout == 0 {
		cfg.ModbusRTU.Timeout = 1000 * time.Millisecond
	}
	if cfg.MQTT.RequestTopic == "" {
		cfg.MQTT.RequestTopic = "modbus/rtu/request"
	}
	if cfg.MQTT.ResponseTopic == "" {
		cfg.MQTT.ResponseTopic = "modbus/rtu/response"
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("modbus_rtu.port", "/dev/ttyUSB0")
	v.SetDefault("modbus_rtu.baudrate", 19200)
	v.SetDefault("modbus_rtu.databits", 8)
	v.SetDefault("modbus_rtu.parity", "N")
	v.SetDefault("modbus_rtu.stopbits", 1)
	v.SetDefault("modbus_rtu.timeout", 1000*time.Millisecond)
	v.SetDefault("modbus_rtu.request_pause", 0)

	v.SetDefault("modbus_tcp.listen_port", 502)
	v.SetDefault("modbus_tcp.mb_port", 5020)

	v.SetDefault("json_tcp.listen_port", 5020)

	v.SetDefault("mqtt.client_id", "modbusgw")
	v.SetDefault("mqtt.request_topic", "modbus/rtu/request")
	v.SetDefault("mqtt.response_topic", "modbus/rtu/response")

	v.SetDefault("slaves_autoscan_on_start", false)
	v.SetDefault("slaves_scan_start", 1)
	v.SetDefault("slaves_scan_end", 247)
	v.SetDefault("slaves_scan_probe_address", 0)

	v.SetDefault("log.level", "info")
}
