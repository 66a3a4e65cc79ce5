package vm

import "github.com/chazu/ripley/pkg/bytecode"

// ---------------------------------------------------------------------------
// Table: open-addressed hash table keyed by interned strings
// ---------------------------------------------------------------------------

// tableMaxLoad is the load factor that triggers growth.
const tableMaxLoad = 0.75

// tableMinCapacity is the capacity of the first allocation. Capacity is
// always a power of two so the probe mask is hash & (cap-1).
const tableMinCapacity = 8

// entry is a single table slot. A tombstone (deleted slot that probing
// must step over) has a nil key and a true value.
type entry struct {
	key   *String
	value Value
}

// Table maps interned Strings to Values. Keys compare by reference; the
// hash is the one cached on the String. Used for VM globals, the intern
// table, class method tables, and instance fields.
type Table struct {
	count   int // live entries plus tombstones
	entries []entry
}

// Count returns the number of live entries plus tombstones.
func (t *Table) Count() int { return t.count }

// findEntry locates the slot for key: either the entry holding it, the
// first tombstone passed on the way, or the empty slot that ends the probe
// sequence.
func findEntry(entries []entry, key *String) *entry {
	mask := uint32(len(entries) - 1)
	index := key.Hash & mask
	var tombstone *entry

	for {
		e := &entries[index]
		if e.key == nil {
			if e.value.IsNil() {
				// Empty slot ends the probe; reuse a passed tombstone.
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			// Tombstone: remember the first one, keep probing.
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
		index = (index + 1) & mask
	}
}

// Get looks up key. The second return is false if the key is absent.
func (t *Table) Get(key *String) (Value, bool) {
	if t.count == 0 {
		return bytecode.NilValue(), false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return bytecode.NilValue(), false
	}
	return e.value, true
}

// Set binds key to value. Returns true if the key was not present before.
func (t *Table) Set(key *String, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		capacity := len(t.entries) * 2
		if capacity < tableMinCapacity {
			capacity = tableMinCapacity
		}
		t.adjustCapacity(capacity)
	}

	e := findEntry(t.entries, key)
	isNew := e.key == nil
	// Reusing a tombstone does not change count: the tombstone already
	// holds a probe slot.
	if isNew && e.value.IsNil() {
		t.count++
	}

	e.key = key
	e.value = value
	return isNew
}

// Delete removes key, leaving a tombstone so later probes still pass
// through this slot. Returns false if the key was absent.
func (t *Table) Delete(key *String) bool {
	if t.count == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = bytecode.BoolValue(true)
	return true
}

// adjustCapacity rehashes every live entry into a fresh slot array,
// discarding tombstones.
func (t *Table) adjustCapacity(capacity int) {
	entries := make([]entry, capacity)

	t.count = 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.key == nil {
			continue
		}
		dest := findEntry(entries, e.key)
		dest.key = e.key
		dest.value = e.value
		t.count++
	}

	t.entries = entries
}

// AddAll copies every entry from src into t. Used by OpInherit to seed a
// subclass's method table.
func (t *Table) AddAll(src *Table) {
	for i := range src.entries {
		e := &src.entries[i]
		if e.key != nil {
			t.Set(e.key, e.value)
		}
	}
}

// FindString looks up an interned string by content. This is the one place
// string keys are compared by bytes rather than by reference: the caller
// is interning and no *String exists yet.
func (t *Table) FindString(s string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}

	mask := uint32(len(t.entries) - 1)
	index := hash & mask
	for {
		e := &t.entries[index]
		if e.key == nil {
			// Empty slot (not a tombstone) ends the probe.
			if e.value.IsNil() {
				return nil
			}
		} else if e.key.Hash == hash && e.key.Bytes == s {
			return e.key
		}
		index = (index + 1) & mask
	}
}

// Each calls fn for every live entry. fn must not mutate the table.
func (t *Table) Each(fn func(key *String, value Value)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil {
			fn(e.key, e.value)
		}
	}
}

// removeWhite deletes entries whose keys were not marked by the current
// collection. The intern table holds its strings weakly through this call,
// made between the mark and sweep phases.
func (t *Table) removeWhite() {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil && !e.key.marked {
			t.Delete(e.key)
		}
	}
}
