package blob

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const memoryScheme = "mem://"

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	data        []byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Put(_ context.Context, name, contentType string, data []byte) (string, error) {
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[name]; !exists {
		m.objects[name] = memoryObject{contentType: contentType, data: append([]byte(nil), data...)}
	}
	return memoryScheme + name, nil
}

func (m *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	name, ok := strings.CutPrefix(ref, memoryScheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a memory reference", ErrNotFound, ref)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return append([]byte(nil), obj.data...), nil
}

// ContentType returns the content type an object was stored with.
func (m *MemoryStore) ContentType(ref string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[strings.TrimPrefix(ref, memoryScheme)].contentType
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
