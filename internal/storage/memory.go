package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/coocood/freecache"
)

const defaultMemoryStoreSize = 8 * 1024 * 1024

// MemoryStore keeps values in an in-process freecache. Nothing survives a
// restart, which makes it the store of choice for tests and throwaway sessions.
type MemoryStore struct {
	cache *freecache.Cache
}

func NewMemoryStore(sizeBytes int) *MemoryStore {
	if sizeBytes <= 0 {
		sizeBytes = defaultMemoryStoreSize
	}
	return &MemoryStore{
		cache: freecache.NewCache(sizeBytes),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	value, err := s.cache.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("memory store get %s: %w", key, err)
	}
	return string(value), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	// expire 0: keep until removed or evicted
	if err := s.cache.Set([]byte(key), []byte(value), 0); err != nil {
		return fmt.Errorf("memory store set %s: %w", key, err)
	}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.cache.Del([]byte(key))
	return nil
}

func (s *MemoryStore) Len() int64 {
	return s.cache.EntryCount()
}
