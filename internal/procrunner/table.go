package procrunner

import "sync"

// Table is the single shared owner of the child-process table described
// in §5: C1 (this package) is the only writer; C2, C7, and C8 only ever
// read a Snapshot. Readers never block writers for more than the time it
// takes to copy the map.
type Table struct {
	mu      sync.RWMutex
	records map[int]*Record // keyed by pid
}

// NewTable returns an empty child-process table.
func NewTable() *Table {
	return &Table{records: make(map[int]*Record)}
}

func (t *Table) insert(r *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[r.PID] = r
}

func (t *Table) remove(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, pid)
}

func (t *Table) update(pid int, mutate func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[pid]; ok {
		mutate(r)
	}
}

// Snapshot returns a copy of every currently tracked record. Safe to call
// concurrently with any writer.
func (t *Table) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	return out
}

// Len reports the number of tracked records, used by shutdown draining to
// decide when the table is empty (property 4: reap completeness).
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// ByRepoKey returns the tracked records (if any) owned by repoKey. Used by
// the SVN Conversion Worker's Phase D mutual-exclusion check.
func (t *Table) ByRepoKey(repoKey string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for _, r := range t.records {
		if r.RepoKey == repoKey {
			out = append(out, *r)
		}
	}
	return out
}
