package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject

	// FailUploads makes Upload and Copy fail; lets tests exercise the
	// version-creation failure path.
	FailUploads bool

	// FailCopies makes only Copy fail, so tests can break archiving
	// while plain uploads still land.
	FailCopies bool
}

type memoryObject struct {
	data     []byte
	modified time.Time
}

// NewMemoryStore creates an empty in-memory blob store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Upload(ctx context.Context, path string, content io.Reader, contentType string) error {
	if m.FailUploads {
		return fmt.Errorf("memory store: uploads disabled")
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[path] = memoryObject{data: data, modified: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	delete(m.objects, path)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Copy(ctx context.Context, src, dst string) error {
	if m.FailUploads {
		return fmt.Errorf("memory store: uploads disabled")
	}
	if m.FailCopies {
		return fmt.Errorf("memory store: copies disabled")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[src]
	if !ok {
		return ErrNotFound
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	m.objects[dst] = memoryObject{data: data, modified: time.Now()}
	return nil
}

func (m *MemoryStore) CreateFolder(ctx context.Context, path string) error {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	m.mu.Lock()
	m.objects[path] = memoryObject{modified: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) EditLink(ctx context.Context, path string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("memory://%s?expires=%d", path, time.Now().Add(ttl).Unix()), nil
}

func (m *MemoryStore) Stat(ctx context.Context, path string) (int64, time.Time, error) {
	m.mu.RLock()
	obj, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return 0, time.Time{}, ErrNotFound
	}
	return int64(len(obj.data)), obj.modified, nil
}

// Exists reports whether an object is present (test helper)
func (m *MemoryStore) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok
}

// Touch overwrites an object's modification time (test helper for the
// changed-file monitor)
func (m *MemoryStore) Touch(path string, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[path]; ok {
		obj.modified = modified
		m.objects[path] = obj
	}
}
