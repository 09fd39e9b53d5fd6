// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package jsonfront implements the JSON/TCP Front (C4): a line-delimited
// JSON protocol, one request and one reply per connection (§4.4).
package jsonfront

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
)

// DefaultPort is the JSON/TCP front's listening port (§6), independent of
// the Modbus TCP front's port.
const DefaultPort = 5020

// Server is the JSON/TCP Front.
type Server struct {
	Addr       string
	Dispatcher Dispatcher

	listener net.Listener
}

// NewServer builds a front bound to addr.
func NewServer(addr string, dispatcher Dispatcher) *Server {
	return &Server{Addr: addr, Dispatcher: dispatcher}
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("json/tcp front: listen on %s: %w", s.Addr, err)
	}
	s.listener = listener
	slog.Info("json/tcp front listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("json/tcp front: accept failed", "err", err)
				continue
			}
		}
		go s.serveOnce(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// serveOnce reads exactly one request line, replies, and closes — the
// front is one-shot per connection (§4.4, §9 Open Question 1).
func (s *Server) serveOnce(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		writeReply(conn, Reply{Ok: false, Error: "bad_request"})
		return
	}

	writeReply(conn, Handle(ctx, s.Dispatcher, req))
}

func writeReply(conn net.Conn, r Reply) {
	enc, err := json.Marshal(r)
	if err != nil {
		slog.Error("json/tcp front: failed to encode reply", "err", err)
		return
	}
	enc = append(enc, '\n')
	if _, err := conn.Write(enc); err != nil {
		slog.Debug("json/tcp front: write failed", "err", err)
	}
}
