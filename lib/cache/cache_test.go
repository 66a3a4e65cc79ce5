package cache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/ripley/pkg/bytecode"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleScript() *bytecode.WireFunction {
	return &bytecode.WireFunction{
		Code:  []byte{byte(bytecode.OpNil), byte(bytecode.OpReturn)},
		Lines: []int{1, 1},
		Constants: []bytecode.WireConstant{
			{Kind: bytecode.WireConstString, Str: "cached"},
		},
	}
}

func TestPutAndLoad(t *testing.T) {
	s := openTestStore(t)

	key := HashSource("print 1;")
	if err := s.Put(key, sampleScript()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	fn, err := s.Load(key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(fn.Code) != 2 || fn.Constants[0].Str != "cached" {
		t.Errorf("loaded script = %+v, want round-tripped sample", fn)
	}
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Load(HashSource("never compiled")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load of absent key = %v, want ErrNotFound", err)
	}
}

func TestPutReplaces(t *testing.T) {
	s := openTestStore(t)
	key := HashSource("print 1;")

	if err := s.Put(key, sampleScript()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	updated := sampleScript()
	updated.Constants[0].Str = "replaced"
	if err := s.Put(key, updated); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	fn, err := s.Load(key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fn.Constants[0].Str != "replaced" {
		t.Errorf("constant = %q, want %q", fn.Constants[0].Str, "replaced")
	}
}

func TestHashSourceDistinguishesSources(t *testing.T) {
	if HashSource("print 1;") == HashSource("print 2;") {
		t.Error("distinct sources hashed identically")
	}
	if HashSource("same") != HashSource("same") {
		t.Error("identical sources hashed differently")
	}
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	s := openTestStore(t)
	key := HashSource("whatever")

	if _, err := s.db.Exec(
		"INSERT INTO chunks (source_hash, wire_version, data) VALUES (?, ?, ?)",
		key, int(bytecode.WireVersion), []byte("not cbor"),
	); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load of corrupt entry = %v, want ErrNotFound", err)
	}
}

func TestOldWireVersionIsAMiss(t *testing.T) {
	s := openTestStore(t)
	key := HashSource("stale")

	data, err := bytecode.MarshalScript(sampleScript())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(
		"INSERT INTO chunks (source_hash, wire_version, data) VALUES (?, ?, ?)",
		key, 0, data,
	); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load of stale version = %v, want ErrNotFound", err)
	}
}
