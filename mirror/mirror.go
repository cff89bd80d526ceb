// Package mirror holds the local, read-optimized copy of on-chain contract
// state. The mirror is eventually consistent and never authoritative: it is
// rebuilt from ledger events by the reconciler, which is its only writer.
package mirror

import (
	"sort"
	"sync"

	"github.com/ahmadzakiakmal/agroforward/ledger"
)

// Store is the mirror's storage contract. Writes come exclusively from the
// reconciler; every other component only reads.
type Store interface {
	// Get returns a copy of the record, or nil when the id is unknown.
	Get(id uint64) (*ledger.Contract, error)
	// Put inserts or replaces a record and maintains the address indices.
	Put(c *ledger.Contract) error
	// ListByFarmer returns records created by the address, ascending by id.
	ListByFarmer(addr string) ([]*ledger.Contract, error)
	// ListByBuyer returns records bought by the address, ascending by id.
	ListByBuyer(addr string) ([]*ledger.Contract, error)
	// Cursor returns the last fully processed block height.
	Cursor() (int64, error)
	// SetCursor advances the last processed block height.
	SetCursor(height int64) error
}

// MemoryStore is the in-process Store used when no database is configured,
// and by tests. Records plus append-only secondary indices per address.
type MemoryStore struct {
	mu        sync.RWMutex
	contracts map[uint64]ledger.Contract
	byFarmer  map[string][]uint64
	byBuyer   map[string][]uint64
	cursor    int64
}

// NewMemoryStore creates an empty in-memory mirror.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts: make(map[uint64]ledger.Contract),
		byFarmer:  make(map[string][]uint64),
		byBuyer:   make(map[string][]uint64),
	}
}

// Get implements Store.
func (m *MemoryStore) Get(id uint64) (*ledger.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contracts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Put implements Store. Events arrive in creation order, so index appends
// keep ascending order; out-of-order re-application is tolerated by sorting
// on insert when needed.
func (m *MemoryStore) Put(c *ledger.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.contracts[c.ID]
	m.contracts[c.ID] = *c

	if !existed {
		m.byFarmer[c.Farmer] = insertID(m.byFarmer[c.Farmer], c.ID)
	}
	if c.Buyer != "" && (!existed || prev.Buyer == "") {
		m.byBuyer[c.Buyer] = insertID(m.byBuyer[c.Buyer], c.ID)
	}
	return nil
}

// ListByFarmer implements Store.
func (m *MemoryStore) ListByFarmer(addr string) ([]*ledger.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.byFarmer[addr]), nil
}

// ListByBuyer implements Store.
func (m *MemoryStore) ListByBuyer(addr string) ([]*ledger.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.byBuyer[addr]), nil
}

// Cursor implements Store.
func (m *MemoryStore) Cursor() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor, nil
}

// SetCursor implements Store.
func (m *MemoryStore) SetCursor(height int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height > m.cursor {
		m.cursor = height
	}
	return nil
}

func (m *MemoryStore) collect(ids []uint64) []*ledger.Contract {
	out := make([]*ledger.Contract, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.contracts[id]; ok {
			copied := c
			out = append(out, &copied)
		}
	}
	return out
}

// insertID appends an id keeping the slice sorted and duplicate-free.
func insertID(ids []uint64, id uint64) []uint64 {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
