package mover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
)

// memObjects is an in-memory ObjectClient.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte

	failPut    error
	failRemove error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	if m.failPut != nil {
		return m.failPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("short upload: %d of %d", len(data), size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memObjects) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) Remove(_ context.Context, bucket, key string) error {
	if m.failRemove != nil {
		return m.failRemove
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memObjects) Stat(_ context.Context, bucket, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return 0, fmt.Errorf("stat %s: %w", key, fs.ErrNotExist)
	}
	return int64(len(data)), nil
}

func (m *memObjects) has(bucket, key string) bool {
	_, err := m.Stat(context.Background(), bucket, key)
	return err == nil
}

var errInjected = errors.New("injected failure")
