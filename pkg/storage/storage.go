// Package storage provides the durable key-value stores that hold serialized session state.
//
// Two stores back a session: a long-lived store built on the system keyring, used when the user
// asks to be remembered across processes, and a process-scoped in-memory store used otherwise.
// Which store holds the session is the sole "remember me" signal; both hold the same two entries
// under fixed keys.
package storage

import (
	"errors"
	"sync"
)

// Well-known keys under which session state is stored.
const (
	KeyAuthToken = "authToken"
	KeyUserData  = "userData"
)

// ErrNotFound is returned by Store.Get when no value exists for a key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable string key-value store.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Memory is a process-scoped Store. It satisfies the same interface as the keyring-backed store
// but does not survive process exit.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
