// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package arbiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeMaster records concurrent entries into ReadHoldingRegisters so tests
// can assert the arbiter never lets two callers in at once.
type fakeMaster struct {
	inFlight int32
	maxSeen  int32
	hold     time.Duration
}

func (f *fakeMaster) ReadCoils(ctx context.Context, unit byte, addr, count uint16) ([]bool, error) {
	return nil, nil
}
func (f *fakeMaster) ReadDiscreteInputs(ctx context.Context, unit byte, addr, count uint16) ([]bool, error) {
	return nil, nil
}

func (f *fakeMaster) ReadHoldingRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		old := atomic.LoadInt32(&f.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxSeen, old, n) {
			break
		}
	}
	time.Sleep(f.hold)
	atomic.AddInt32(&f.inFlight, -1)
	return []uint16{1}, nil
}

func (f *fakeMaster) ReadInputRegisters(ctx context.Context, unit byte, addr, count uint16) ([]uint16, error) {
	return nil, nil
}
func (f *fakeMaster) WriteSingleCoil(ctx context.Context, unit byte, addr uint16, value bool) error {
	return nil
}
func (f *fakeMaster) WriteSingleRegister(ctx context.Context, unit byte, addr, value uint16) error {
	return nil
}
func (f *fakeMaster) WriteMultipleCoils(ctx context.Context, unit byte, addr uint16, bits []bool) error {
	return nil
}
func (f *fakeMaster) WriteMultipleRegisters(ctx context.Context, unit byte, addr uint16, values []uint16) error {
	return nil
}
func (f *fakeMaster) MaskWriteRegister(ctx context.Context, unit byte, addr, andMask, orMask uint16) error {
	return nil
}
func (f *fakeMaster) Connected() bool { return true }

func TestArbiterSerializesAccess(t *testing.T) {
	m := &fakeMaster{hold: 10 * time.Millisecond}
	a := New(m)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.ReadHoldingRegisters(context.Background(), 1, 0, 1); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if m.maxSeen != 1 {
		t.Fatalf("expected at most 1 concurrent transaction, saw %d", m.maxSeen)
	}
}

func TestArbiterAcquireCanceledByContext(t *testing.T) {
	m := &fakeMaster{hold: 50 * time.Millisecond}
	a := New(m)

	// Take the only ticket and hold it.
	done := make(chan struct{})
	go func() {
		a.ReadHoldingRegisters(context.Background(), 1, 0, 1)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond) // let the goroutine above grab the ticket

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := a.ReadHoldingRegisters(ctx, 2, 0, 1)
	if err == nil {
		t.Fatal("expected context deadline error while waiting for the ticket")
	}
	<-done
}

func TestArbiterReleasesTicketAfterUse(t *testing.T) {
	m := &fakeMaster{}
	a := New(m)

	for i := 0; i < 3; i++ {
		if _, err := a.ReadHoldingRegisters(context.Background(), 1, 0, 1); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
}

func TestArbiterConnectedDoesNotAcquireTicket(t *testing.T) {
	m := &fakeMaster{hold: 50 * time.Millisecond}
	a := New(m)

	go a.ReadHoldingRegisters(context.Background(), 1, 0, 1)
	time.Sleep(5 * time.Millisecond)

	if !a.Connected() {
		t.Fatal("Connected() should not block on the ticket")
	}
}
