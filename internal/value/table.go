package value

import "loxvm/internal/memory"

// TableMaxLoad is the fraction of slots (live entries plus tombstones) a
// table may fill before it grows.
const TableMaxLoad = 0.75

// Entry is one slot of a Table. An empty slot has a nil Key and a nil
// Value; a tombstone has a nil Key and the Value true.
type Entry struct {
	Key   *String
	Value Value
}

func (e *Entry) isTombstone() bool {
	return e.Key == nil && !e.Value.IsNil()
}

// Table is an open-addressed hash map keyed by interned strings, probed
// linearly. Keys compare by identity.
type Table struct {
	count   int // live entries plus tombstones
	live    int
	entries []Entry
	tracker memory.Tracker
}

// NewTable returns an empty table whose storage is accounted to t.
func NewTable(t memory.Tracker) Table {
	return Table{tracker: t}
}

// Init attaches an allocation tracker to a zero Table.
func (t *Table) Init(tr memory.Tracker) {
	t.tracker = tr
}

// Len is the number of live entries.
func (t *Table) Len() int { return t.live }

// Capacity is the number of slots.
func (t *Table) Capacity() int { return len(t.entries) }

func (t *Table) Get(key *String) (Value, bool) {
	if t.live == 0 {
		return Value{}, false
	}
	e := findEntry(t.entries, key)
	if e.Key == nil {
		return Value{}, false
	}
	return e.Value, true
}

// Set stores v under key and reports whether key was not present before.
func (t *Table) Set(key *String, v Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*TableMaxLoad {
		t.adjustCapacity(memory.GrowCapacity(len(t.entries)))
	}
	e := findEntry(t.entries, key)
	isNew := e.Key == nil
	if isNew {
		if !e.isTombstone() {
			t.count++
		}
		t.live++
	}
	e.Key = key
	e.Value = v
	return isNew
}

// Delete removes key, leaving a tombstone so later probes still find
// entries placed past it.
func (t *Table) Delete(key *String) bool {
	if t.live == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.Key == nil {
		return false
	}
	e.Key = nil
	e.Value = Bool(true)
	t.live--
	return true
}

// AddAll copies every entry of from into t, overwriting existing keys.
func (t *Table) AddAll(from *Table) {
	for i := range from.entries {
		e := &from.entries[i]
		if e.Key != nil {
			t.Set(e.Key, e.Value)
		}
	}
}

// FindString looks a string up by content. It is used by the intern table
// before a new String is allocated.
func (t *Table) FindString(chars string, hash uint32) *String {
	if t.live == 0 {
		return nil
	}
	mask := uint32(len(t.entries) - 1)
	index := hash & mask
	for {
		e := &t.entries[index]
		if e.Key == nil {
			if !e.isTombstone() {
				return nil
			}
		} else if e.Key.Hash == hash && e.Key.Chars == chars {
			return e.Key
		}
		index = (index + 1) & mask
	}
}

// RemoveUnmarked deletes every entry whose key was not marked by the
// current collection.
func (t *Table) RemoveUnmarked() int {
	removed := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.Key != nil && !e.Key.Marked() {
			e.Key = nil
			e.Value = Bool(true)
			t.live--
			removed++
		}
	}
	return removed
}

// Each calls fn for every live entry.
func (t *Table) Each(fn func(key *String, v Value)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.Key != nil {
			fn(e.Key, e.Value)
		}
	}
}

// Free releases the table storage.
func (t *Table) Free() {
	t.entries = memory.Release(t.tracker, t.entries)
	t.count = 0
	t.live = 0
}

func findEntry(entries []Entry, key *String) *Entry {
	mask := uint32(len(entries) - 1)
	index := key.Hash & mask
	var tombstone *Entry
	for {
		e := &entries[index]
		if e.Key == nil {
			if !e.isTombstone() {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		} else if e.Key == key {
			return e
		}
		index = (index + 1) & mask
	}
}

func (t *Table) adjustCapacity(capacity int) {
	entries := memory.Reallocate[Entry](t.tracker, nil, capacity)[:capacity]
	count := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.Key == nil {
			continue
		}
		dst := findEntry(entries, e.Key)
		dst.Key = e.Key
		dst.Value = e.Value
		count++
	}
	memory.Release(t.tracker, t.entries)
	t.entries = entries
	t.count = count
}
