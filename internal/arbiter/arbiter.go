// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package arbiter implements the Serialization Arbiter (C2): it wraps
// every call site of the RTU Master so that at most one transaction is
// ever in flight on the bus, admits waiters first-come-first-served, and
// lets a caller abandon its wait cleanly without disturbing anyone else.
//
// The predecessor of this package was an ambient mutex inside the master
// itself (see the request-channel worker in the root-level gateway.go
// this project started from); promoting it to its own type makes the
// fairness and cancellation contract explicit instead of a side effect of
// where a lock happened to be acquired.
package arbiter

import (
	"context"
)

// Master is the subset of rtumaster.Master the arbiter serializes access
// to. Declared locally so the arbiter depends only on the shape it needs,
// not on the concrete RTU master package.
type Master interface {
	ReadCoils(ctx context.Context, unit byte, addr, count uint16) ([]bool, error)
	ReadDiscreteInputs(ctx context.Context, unit byte, addr, count uint16) ([]bool, error)
	ReadHoldingRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error)
	ReadInputRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error)
	WriteSingleCoil(ctx context.Context, unit byte, addr uint16, value bool) error
	WriteSingleRegister(ctx context.Context, unit byte, addr, value uint16) error
	WriteMultipleCoils(ctx context.Context, unit byte, addr uint16, bits []bool) error
	WriteMultipleRegisters(ctx context.Context, unit byte, addr uint16, values []uint16) error
	MaskWriteRegister(ctx context.Context, unit byte, addr, andMask, orMask uint16) error
	Connected() bool
}

// Arbiter serializes concurrent callers onto a single Master. Admission is
// first-come-first-served: ticket is a capacity-1 channel, and Go blocks
// goroutines waiting to receive from the same channel in the order they
// started waiting, which gives FIFO admission for free.
type Arbiter struct {
	master Master
	ticket chan struct{}
}

// New wraps master with a single-ticket admission queue.
func New(master Master) *Arbiter {
	a := &Arbiter{
		master: master,
		ticket: make(chan struct{}, 1),
	}
	a.ticket <- struct{}{}
	return a
}

// acquire blocks until it is this caller's turn, or ctx is done. A caller
// that gives up here (client disconnect) never touches the bus and leaves
// the queue without affecting the next waiter.
func (a *Arbiter) acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ticket:
		return nil
	}
}

func (a *Arbiter) release() {
	a.ticket <- struct{}{}
}

// Connected reports the underlying master's connection state. Safe to call
// without holding the ticket — it does not touch the bus.
func (a *Arbiter) Connected() bool {
	return a.master.Connected()
}

func (a *Arbiter) ReadCoils(ctx context.Context, unit byte, addr, count uint16) ([]bool, error) {
	return withTicket(a, ctx, func() ([]bool, error) {
		return a.master.ReadCoils(ctx, unit, addr, count)
	})
}

func (a *Arbiter) ReadDiscreteInputs(ctx context.Context, unit byte, addr, count uint16) ([]bool, error) {
	return withTicket(a, ctx, func() ([]bool, error) {
		return a.master.ReadDiscreteInputs(ctx, unit, addr, count)
	})
}

func (a *Arbiter) ReadHoldingRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error) {
	return withTicket(a, ctx, func() ([]uint16, error) {
		return a.master.ReadHoldingRegisters(ctx, unit, addr, count)
	})
}

func (a *Arbiter) ReadInputRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error) {
	return withTicket(a, ctx, func() ([]uint16, error) {
		return a.master.ReadInputRegisters(ctx, unit, addr, count)
	})
}

func (a *Arbiter) WriteSingleCoil(ctx context.Context, unit byte, addr uint16, value bool) error {
	return withTicketErr(a, ctx, func() error {
		return a.master.WriteSingleCoil(ctx, unit, addr, value)
	})
}

func (a *Arbiter) WriteSingleRegister(ctx context.Context, unit byte, addr, value uint16) error {
	return withTicketErr(a, ctx, func() error {
		return a.master.WriteSingleRegister(ctx, unit, addr, value)
	})
}

func (a *Arbiter) WriteMultipleCoils(ctx context.Context, unit byte, addr uint16, bits []bool) error {
	return withTicketErr(a, ctx, func() error {
		return a.master.WriteMultipleCoils(ctx, unit, addr, bits)
	})
}

func (a *Arbiter) WriteMultipleRegisters(ctx context.Context, unit byte, addr uint16, values []uint16) error {
	return withTicketErr(a, ctx, func() error {
		return a.master.WriteMultipleRegisters(ctx, unit, addr, values)
	})
}

func (a *Arbiter) MaskWriteRegister(ctx context.Context, unit byte, addr, andMask, orMask uint16) error {
	return withTicketErr(a, ctx, func() error {
		return a.master.MaskWriteRegister(ctx, unit, addr, andMask, orMask)
	})
}

// withTicket runs fn once this caller holds the ticket, releasing it
// afterwards regardless of outcome.
func withTicket[T any](a *Arbiter, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := a.acquire(ctx); err != nil {
		return zero, err
	}
	defer a.release()
	return fn()
}

func withTicketErr(a *Arbiter, ctx context.Context, fn func() error) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	defer a.release()
	return fn()
}
