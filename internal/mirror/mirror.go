// Package mirror persists the bound WhatsApp number so it can be displayed
// across process restarts. The mirror is display data only; live session
// status is owned by the session package.
package mirror

import (
	"context"
	"errors"
	"sync"
)

// NumberKey is the record key holding the bound phone number.
const NumberKey = "whatsapp_number"

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("mirror: record not found")

// Store is a key/value record store. Delete of a missing key succeeds.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store, used when no durable mirror is wanted and in tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
