package database

import (
	"container/list"
	"context"
	"sync"

	"github.com/sweepworld/server/internal/minegen"
)

// MemoryChunkCache is a bounded in-process LRU of generated chunks.
type MemoryChunkCache struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List // front is most recently used
	entries    map[ChunkKey]*list.Element
}

type memoryEntry struct {
	key   ChunkKey
	chunk minegen.Chunk
}

// NewMemoryChunkCache creates a cache holding at most maxEntries chunks.
// A non-positive maxEntries means unbounded.
func NewMemoryChunkCache(maxEntries int) *MemoryChunkCache {
	return &MemoryChunkCache{
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[ChunkKey]*list.Element),
	}
}

// Get returns a cached chunk and marks it recently used.
func (c *MemoryChunkCache) Get(_ context.Context, key ChunkKey) (minegen.Chunk, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return minegen.Chunk{}, false, nil
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*memoryEntry).chunk, true, nil
}

// GetMany returns the cached subset of keys.
func (c *MemoryChunkCache) GetMany(ctx context.Context, keys []ChunkKey) (map[ChunkKey]minegen.Chunk, error) {
	result := make(map[ChunkKey]minegen.Chunk, len(keys))
	for _, key := range keys {
		if chunk, ok, _ := c.Get(ctx, key); ok {
			result[key] = chunk
		}
	}
	return result, nil
}

// Put stores a chunk, evicting the least recently used entry when full.
func (c *MemoryChunkCache) Put(_ context.Context, key ChunkKey, chunk minegen.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*memoryEntry).chunk = chunk
		c.order.MoveToFront(elem)
		return nil
	}

	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, chunk: chunk})
	if c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

// PutMany stores every chunk in the map.
func (c *MemoryChunkCache) PutMany(ctx context.Context, chunks map[ChunkKey]minegen.Chunk) error {
	for key, chunk := range chunks {
		if err := c.Put(ctx, key, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every entry.
func (c *MemoryChunkCache) Clear(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(c.order.Len())
	c.order.Init()
	c.entries = make(map[ChunkKey]*list.Element)
	return n, nil
}

// Len returns the number of cached chunks.
func (c *MemoryChunkCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
