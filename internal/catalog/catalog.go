// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package catalog holds the Slave Catalog (C6): in-memory bookkeeping about
// which RTU units are known to exist, seeded from configuration at startup
// and optionally extended by a background scan. The gateway never gates
// RTU traffic on catalog membership — it is read-through metadata, not an
// access-control list (§3 "Slave Entry").
package catalog

import "sync"

// Entry describes one known slave unit.
type Entry struct {
	Unit        byte
	Name        string
	Description string
}

// Catalog is a read/write-locked map of known units, keyed by unit id.
type Catalog struct {
	mu      sync.RWMutex
	entries map[byte]Entry
}

// New seeds a Catalog from the given entries (typically loaded from
// configuration). Later duplicate units overwrite earlier ones.
func New(seed []Entry) *Catalog {
	c := &Catalog{entries: make(map[byte]Entry, len(seed))}
	for _, e := range seed {
		c.entries[e.Unit] = e
	}
	return c
}

// Get looks up a unit's catalog entry.
func (c *Catalog) Get(unit byte) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[unit]
	return e, ok
}

// List returns a snapshot of every known entry, in no particular order.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Add records a newly discovered unit if it isn't already known. Called by
// the scanner (C6); never by a request-serving path.
func (c *Catalog) Add(unit byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[unit]; exists {
		return
	}
	c.entries[unit] = Entry{Unit: unit, Name: "", Description: "discovered by scan"}
}
