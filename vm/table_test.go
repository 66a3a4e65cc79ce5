package vm

import (
	"fmt"
	"testing"

	"github.com/chazu/ripley/pkg/bytecode"
)

func TestTableSetGet(t *testing.T) {
	h := NewHeap()
	var table Table

	key := h.CopyString("answer")
	if isNew := table.Set(key, bytecode.NumberValue(42)); !isNew {
		t.Error("Set of fresh key returned isNew = false, want true")
	}

	got, ok := table.Get(key)
	if !ok {
		t.Fatal("Get returned ok = false after Set")
	}
	if got.AsNumber() != 42 {
		t.Errorf("Get = %v, want 42", got)
	}

	// Rebinding is not new
	if isNew := table.Set(key, bytecode.NumberValue(7)); isNew {
		t.Error("Set of existing key returned isNew = true, want false")
	}
	got, _ = table.Get(key)
	if got.AsNumber() != 7 {
		t.Errorf("Get after rebind = %v, want 7", got)
	}
}

func TestTableGetMissing(t *testing.T) {
	h := NewHeap()
	var table Table

	if _, ok := table.Get(h.CopyString("ghost")); ok {
		t.Error("Get on empty table returned ok = true")
	}

	table.Set(h.CopyString("present"), bytecode.NilValue())
	if _, ok := table.Get(h.CopyString("ghost")); ok {
		t.Error("Get of absent key returned ok = true")
	}
}

func TestTableDelete(t *testing.T) {
	h := NewHeap()
	var table Table

	key := h.CopyString("gone")
	table.Set(key, bytecode.BoolValue(true))

	if !table.Delete(key) {
		t.Error("Delete of present key = false, want true")
	}
	if _, ok := table.Get(key); ok {
		t.Error("Get after Delete returned ok = true")
	}
	if table.Delete(key) {
		t.Error("second Delete = true, want false")
	}
}

func TestTableTombstoneProbing(t *testing.T) {
	h := NewHeap()
	var table Table

	// Fill enough to force probe sequences, then punch holes and confirm
	// later entries stay reachable through the tombstones.
	keys := make([]*String, 32)
	for i := range keys {
		keys[i] = h.CopyString(fmt.Sprintf("key-%d", i))
		table.Set(keys[i], bytecode.NumberValue(float64(i)))
	}

	for i := 0; i < len(keys); i += 2 {
		table.Delete(keys[i])
	}

	for i := 1; i < len(keys); i += 2 {
		got, ok := table.Get(keys[i])
		if !ok {
			t.Fatalf("key-%d unreachable after deletions", i)
		}
		if got.AsNumber() != float64(i) {
			t.Errorf("key-%d = %v, want %d", i, got, i)
		}
	}

	// Reinsert over tombstones
	for i := 0; i < len(keys); i += 2 {
		table.Set(keys[i], bytecode.NumberValue(float64(-i)))
	}
	for i := 0; i < len(keys); i += 2 {
		got, ok := table.Get(keys[i])
		if !ok || got.AsNumber() != float64(-i) {
			t.Errorf("reinserted key-%d = %v, %v", i, got, ok)
		}
	}
}

func TestTableGrowth(t *testing.T) {
	h := NewHeap()
	var table Table

	const n = 1000
	keys := make([]*String, n)
	for i := range keys {
		keys[i] = h.CopyString(fmt.Sprintf("entry-%04d", i))
		table.Set(keys[i], bytecode.NumberValue(float64(i)))
	}

	for i, key := range keys {
		got, ok := table.Get(key)
		if !ok || got.AsNumber() != float64(i) {
			t.Fatalf("entry-%04d lost across growth: %v, %v", i, got, ok)
		}
	}

	// Capacity stays a power of two
	if c := len(table.entries); c&(c-1) != 0 {
		t.Errorf("capacity = %d, want power of two", c)
	}
}

func TestTableAddAll(t *testing.T) {
	h := NewHeap()
	var src, dst Table

	a := h.CopyString("a")
	b := h.CopyString("b")
	src.Set(a, bytecode.NumberValue(1))
	src.Set(b, bytecode.NumberValue(2))
	dst.Set(b, bytecode.NumberValue(99))

	dst.AddAll(&src)

	if got, _ := dst.Get(a); got.AsNumber() != 1 {
		t.Errorf("dst[a] = %v, want 1", got)
	}
	// AddAll overwrites, matching method inheritance semantics
	if got, _ := dst.Get(b); got.AsNumber() != 2 {
		t.Errorf("dst[b] = %v, want 2", got)
	}
}

func TestFindString(t *testing.T) {
	h := NewHeap()

	s := h.CopyString("needle")
	found := h.strings.FindString("needle", hashString("needle"))
	if found != s {
		t.Error("FindString did not return the interned object")
	}

	if h.strings.FindString("missing", hashString("missing")) != nil {
		t.Error("FindString found a string that was never interned")
	}
}

func TestHashStringFNV(t *testing.T) {
	// Reference values for FNV-1a 32-bit.
	tests := []struct {
		s    string
		want uint32
	}{
		{"", 2166136261},
		{"a", 0xe40c292c},
		{"foobar", 0xbf9cf968},
	}

	for _, tt := range tests {
		if got := hashString(tt.s); got != tt.want {
			t.Errorf("hashString(%q) = %#x, want %#x", tt.s, got, tt.want)
		}
	}
}
