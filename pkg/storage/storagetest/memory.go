// Package storagetest provides in-memory Storage and Resolver doubles.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/document-converter/pkg/storage"
	"github.com/feichai0017/document-converter/pkg/storage/storetypes"
)

// Object is one stored blob.
type Object struct {
	Data        []byte
	ContentType string
	Modified    time.Time
}

// MemoryStorage is a single bucket held in memory.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string]Object
	now     func() time.Time

	// GetErr, when set, is returned by every Get.
	GetErr error
	// StoreErr, when set, is returned by every Store.
	StoreErr error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]Object),
		now:     time.Now,
	}
}

// Put seeds an object with the given modification time.
func (m *MemoryStorage) Put(key string, data []byte, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: data, Modified: modified}
}

// Object returns the stored object for key.
func (m *MemoryStorage) Object(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys lists the stored keys in lexical order.
func (m *MemoryStorage) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStorage) Store(_ context.Context, reader io.Reader, key string, contentType string) (string, error) {
	if m.StoreErr != nil {
		return "", m.StoreErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: data, ContentType: contentType, Modified: m.now()}
	return key, nil
}

func (m *MemoryStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storetypes.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) CleanupBefore(_ context.Context, prefix string, threshold time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) && obj.Modified.Before(threshold) {
			delete(m.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

// StaticResolver maps locators (scheme://bucket) to fixed stores.
type StaticResolver struct {
	mu     sync.Mutex
	stores map[string]*MemoryStorage
	calls  []string

	// Err, when set, is returned by every Resolve.
	Err error
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{stores: make(map[string]*MemoryStorage)}
}

// Bucket returns the store for locator, creating it on first use.
func (r *StaticResolver) Bucket(locator string) *MemoryStorage {
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.stores[locator]
	if !ok {
		store = NewMemoryStorage()
		r.stores[locator] = store
	}
	return store
}

// Calls returns the locators Resolve was called with, in order.
func (r *StaticResolver) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Resolve implements storage.Resolver.
func (r *StaticResolver) Resolve(_ context.Context, locator string) (storage.Storage, error) {
	r.mu.Lock()
	r.calls = append(r.calls, locator)
	err := r.Err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Bucket(locator), nil
}

var (
	_ storage.Storage  = (*MemoryStorage)(nil)
	_ storage.Resolver = (*StaticResolver)(nil)
)
