package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"commercepay/storage"
)

// Manager binds the record tables to a key-value database. All values are
// RLP encoded. Mutations never touch the database directly: callers open a
// Txn, stage every effect of one protocol instruction, and commit the staged
// writes as a single atomic batch. An abandoned Txn leaves no trace, which is
// what gives each instruction its all-or-nothing contract.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a transaction staging writes in memory until Commit.
func (m *Manager) Begin() *Txn {
	return &Txn{
		manager: m,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

// View opens a read-only transaction. Committing a view is a no-op because
// nothing is ever staged on it by the read helpers.
func (m *Manager) View() *Txn {
	return m.Begin()
}

// Txn is an in-memory overlay over the database. Reads see staged writes
// first, then fall through to committed state.
type Txn struct {
	manager *Manager
	writes  map[string][]byte
	deletes map[string]bool
}

func (t *Txn) get(key []byte) ([]byte, bool, error) {
	if t.deletes[string(key)] {
		return nil, false, nil
	}
	if value, ok := t.writes[string(key)]; ok {
		return value, true, nil
	}
	value, err := t.manager.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *Txn) put(key, value []byte) {
	delete(t.deletes, string(key))
	t.writes[string(key)] = value
}

func (t *Txn) del(key []byte) {
	delete(t.writes, string(key))
	t.deletes[string(key)] = true
}

// Commit writes every staged effect in one atomic batch.
func (t *Txn) Commit() error {
	if len(t.writes) == 0 && len(t.deletes) == 0 {
		return nil
	}
	batch := t.manager.db.NewBatch()
	for key, value := range t.writes {
		batch.Put([]byte(key), value)
	}
	for key := range t.deletes {
		batch.Delete([]byte(key))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	t.writes = make(map[string][]byte)
	t.deletes = make(map[string]bool)
	return nil
}

// kvPut stores the value under the key using RLP encoding.
func (t *Txn) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	t.put(key, encoded)
	return nil
}

// kvGet retrieves the value stored under the key and decodes it into out.
// The boolean reports whether the key exists.
func (t *Txn) kvGet(key []byte, out interface{}) (bool, error) {
	raw, ok, err := t.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}
