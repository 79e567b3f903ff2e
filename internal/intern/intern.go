// Package intern implements the process-wide path interning table described
// in spec.md §3: every absolute path string maps to a shared, stable handle,
// and graph code compares handles by identity instead of comparing strings.
package intern

import "sync"

// Path is an opaque handle to an interned absolute path. The zero value is
// not a valid handle.
type Path struct {
	id int32
}

func (p Path) Valid() bool { return p.id != 0 }

// Table is a concurrent intern table: many readers, write-once per new
// string. A Table is owned by one build service; tests construct a private
// Table each so parallel tests never share handles (spec.md §9).
type Table struct {
	mu      sync.RWMutex
	strings []string // index 0 unused so the zero Path is invalid
	ids     map[string]int32
	refs    []int32 // reference count per id, for periodic compaction
}

func NewTable() *Table {
	return &Table{
		strings: make([]string, 1, 64),
		ids:     make(map[string]int32, 64),
		refs:    make([]int32, 1, 64),
	}
}

// Intern returns the handle for absPath, creating it on first sight.
func (t *Table) Intern(absPath string) Path {
	t.mu.RLock()
	if id, ok := t.ids[absPath]; ok {
		t.mu.RUnlock()
		t.mu.Lock()
		t.refs[id]++
		t.mu.Unlock()
		return Path{id: id}
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check: another goroutine may have interned it while we upgraded the lock.
	if id, ok := t.ids[absPath]; ok {
		t.refs[id]++
		return Path{id: id}
	}
	id := int32(len(t.strings))
	t.strings = append(t.strings, absPath)
	t.refs = append(t.refs, 1)
	t.ids[absPath] = id
	return Path{id: id}
}

// Release drops one reference. It does not free the slot immediately;
// Compact reclaims slots whose count has dropped back to the table's own
// baseline reference of one.
func (t *Table) Release(p Path) {
	if !p.Valid() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(p.id) < len(t.refs) && t.refs[p.id] > 0 {
		t.refs[p.id]--
	}
}

// String returns the original absolute path for a handle.
func (t *Table) String(p Path) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !p.Valid() || int(p.id) >= len(t.strings) {
		return ""
	}
	return t.strings[p.id]
}

// Compact removes intern entries whose reference count has dropped to one
// (spec.md §5: "entries whose reference count has dropped to one are
// removed"): every Intern call leaves the table itself holding one implicit
// reference, so a count of exactly one means every external holder
// (a dependency edge, an entry root) has since Released it.
func (t *Table) Compact() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s, id := range t.ids {
		if t.refs[id] <= 1 {
			delete(t.ids, s)
			t.strings[id] = ""
		}
	}
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}
