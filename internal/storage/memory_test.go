package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestMemoryGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Put(ctx, "k", []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = %v/%v, want hit", ok, err)
	}
	got[0] = 'X'

	again, _, _ := m.Get(ctx, "k")
	if !bytes.Equal(again, []byte("value")) {
		t.Fatalf("stored value mutated through a returned slice: %q", again)
	}
}

func TestMemoryMissAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, _ := m.Get(ctx, "absent"); ok {
		t.Fatal("Get reported a hit for an absent key")
	}
	if err := m.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key survived Delete")
	}
}

func TestMemoryListFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for k, v := range map[string]string{
		"pending/5/2026-03-01/1": "a",
		"pending/5/2026-03-01/2": "b",
		"snapshot/5/2026-03-01":  "c",
	} {
		if err := m.Put(ctx, k, []byte(v)); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	got, err := m.List(ctx, "pending/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(got))
	}
	if _, ok := got["snapshot/5/2026-03-01"]; ok {
		t.Fatal("List leaked a key outside the prefix")
	}
}
