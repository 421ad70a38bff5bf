package rest

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
)

// FileCache keeps validated JSON documents in memory until invalidated.
type FileCache struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewFileCache creates an empty cache.
func NewFileCache() *FileCache {
	return &FileCache{files: make(map[string][]byte)}
}

// Load returns the contents of path, reading it on a miss.
func (c *FileCache) Load(path string) ([]byte, error) {
	path = filepath.Clean(path)

	c.mu.RLock()
	data, ok := c.files[path]
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, errInvalidDocument
	}

	c.mu.Lock()
	c.files[path] = data
	c.mu.Unlock()
	return data, nil
}

// Invalidate drops the cached copies of paths.
func (c *FileCache) Invalidate(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		delete(c.files, filepath.Clean(p))
	}
}

// Reset empties the cache.
func (c *FileCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = make(map[string][]byte)
}

// Len is the number of cached documents.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}
