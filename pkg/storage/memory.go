package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory MetadataStore for tests and single-process
// deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[string]Account
	files    map[int64][]FileRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		accounts: make(map[string]Account),
		files:    make(map[int64][]FileRecord),
	}
}

// AddAccount registers an account and returns it with its assigned ID.
// Adding an existing name returns the existing account.
func (m *MemoryStore) AddAccount(name string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[name]; ok {
		return a
	}
	a := Account{ID: m.nextID, Name: name}
	m.nextID++
	m.accounts[name] = a
	return a
}

// AddFile registers a file record and returns it with its assigned ID.
func (m *MemoryStore) AddFile(f FileRecord) FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.ID = m.nextID
	m.nextID++
	m.files[f.AccountID] = append(m.files[f.AccountID], f)
	return f
}

// AccountByName implements MetadataStore.
func (m *MemoryStore) AccountByName(_ context.Context, name string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[name]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

// FilesForAccount implements MetadataStore.
func (m *MemoryStore) FilesForAccount(_ context.Context, accountID int64) ([]FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	files := append([]FileRecord(nil), m.files[accountID]...)
	sort.Slice(files, func(i, j int) bool {
		if files[i].UploadedAt.Equal(files[j].UploadedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].UploadedAt.Before(files[j].UploadedAt)
	})
	return files, nil
}

// Close implements MetadataStore.
func (m *MemoryStore) Close() error {
	return nil
}
