// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package catalog

import "testing"

func TestNewSeedsEntries(t *testing.T) {
	c := New([]Entry{{Unit: 1, Name: "boiler"}, {Unit: 2, Name: "pump"}})

	e, ok := c.Get(1)
	if !ok || e.Name != "boiler" {
		t.Fatalf("expected seeded entry for unit 1, got %+v ok=%v", e, ok)
	}
	if len(c.List()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(c.List()))
	}
}

func TestGetUnknownUnit(t *testing.T) {
	c := New(nil)
	if _, ok := c.Get(9); ok {
		t.Fatal("expected unknown unit to be absent")
	}
}

func TestAddIsIdempotentAndNeverOverwritesSeed(t *testing.T) {
	c := New([]Entry{{Unit: 3, Name: "seeded"}})

	c.Add(3)
	e, _ := c.Get(3)
	if e.Name != "seeded" {
		t.Fatalf("Add must not overwrite a seeded entry, got %+v", e)
	}

	c.Add(4)
	e, ok := c.Get(4)
	if !ok || e.Description != "discovered by scan" {
		t.Fatalf("expected discovered entry for unit 4, got %+v ok=%v", e, ok)
	}

	c.Add(4)
	if len(c.List()) != 2 {
		t.Fatalf("expected Add to be idempotent, got %d entries", len(c.List()))
	}
}
