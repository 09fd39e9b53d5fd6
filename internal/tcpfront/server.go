// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcpfront implements the Modbus TCP Front (C3): it accepts plain
// Modbus/TCP connections, translates each request PDU to an RTU request
// dispatched through the arbiter, and replies with the MBAP-wrapped
// response — building exceptions itself for anything C1 never needs to see.
package tcpfront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sbhome/modbusgw/modbus"
	"github.com/sbhome/modbusgw/modbus/tcp"
)

// DefaultPort is the privileged Modbus/TCP port. FallbackPort is used when
// binding DefaultPort fails for lack of privilege (§6).
const (
	DefaultPort  = 502
	FallbackPort = 5020
)

// Server is the Modbus TCP Front.
type Server struct {
	Addr       string
	Dispatcher Dispatcher

	listener net.Listener
}

// NewServer builds a front bound to addr (host:port, or just ":port").
func NewServer(addr string, dispatcher Dispatcher) *Server {
	return &Server{Addr: addr, Dispatcher: dispatcher}
}

// listenConfig sets SO_REUSEADDR on the listening socket so a restarted
// gateway does not have to wait out the previous listener's TIME_WAIT.
var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		if err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		}); err != nil {
			return err
		}
		return sockErr
	},
}

// IsPermissionError reports whether err looks like a bind failure due to
// lack of privilege (typically binding DefaultPort as a non-root process) —
// the condition under which the supervisor falls back to FallbackPort (§6).
func IsPermissionError(err error) bool {
	return errors.Is(err, os.ErrPermission)
}

// Start binds the listener and serves until ctx is cancelled. Blocking —
// run it in its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	listener, err := listenConfig.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("modbus tcp front: listen on %s: %w", s.Addr, err)
	}
	s.listener = listener
	slog.Info("modbus tcp front listening", "addr", listener.Addr().String())

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
				slog.Error("modbus tcp front: accept failed", "err", err)
				continue
			}
		}
		go s.serve(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr()
	slog.Debug("modbus tcp front: client connected", "addr", remote)

	header := make([]byte, tcp.HeaderSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				slog.Debug("modbus tcp front: header read failed", "addr", remote, "err", err)
			}
			return
		}

		tid, proto, length, unit, err := tcp.DecodeHeader(header)
		if err != nil || proto != 0 || length < 1 || length > tcp.MaxADUSize-tcp.HeaderSize {
			slog.Warn("modbus tcp front: malformed mbap header, closing", "addr", remote)
			return
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			slog.Debug("modbus tcp front: body read failed", "addr", remote, "err", err)
			return
		}

		reqPdu := modbus.ProtocolDataUnit{FunctionCode: body[0], Data: body[1:]}
		respPdu := dispatch(ctx, s.Dispatcher, unit, reqPdu)

		respAdu := tcp.DecodeBody(tid, proto, unit, respPdu)
		raw, err := respAdu.Encode()
		if err != nil {
			slog.Error("modbus tcp front: failed to encode response", "addr", remote, "err", err)
			return
		}
		if _, err := conn.Write(raw); err != nil {
			slog.Debug("modbus tcp front: write failed", "addr", remote, "err", err)
			return
		}
	}
}
