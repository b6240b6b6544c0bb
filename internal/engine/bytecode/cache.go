package bytecode

import (
	"sync"

	"github.com/dop251/goja"
)

// Cache keeps compiled programs by digest so that evaluating a unit that was
// produced in this process skips the compile step. goja programs are
// immutable and may be shared between runtimes.
type Cache struct {
	mu       sync.Mutex
	size     int
	programs map[Digest]*goja.Program
	order    []Digest // insertion order, oldest first
	hits     uint64
	misses   uint64
}

// NewCache creates a cache holding at most size programs. A size of zero
// disables caching.
func NewCache(size int) *Cache {
	return &Cache{
		size:     size,
		programs: make(map[Digest]*goja.Program, size),
	}
}

// Get returns the program cached for digest
func (c *Cache) Get(digest Digest) (*goja.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	program, ok := c.programs[digest]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return program, ok
}

// Put stores program, evicting the oldest entry once full
func (c *Cache) Put(digest Digest, program *goja.Program) {
	if c.size <= 0 || program == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.programs[digest]; exists {
		return
	}
	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.programs, oldest)
	}
	c.programs[digest] = program
	c.order = append(c.order, digest)
}

// Load decodes data and returns a runnable program, from the cache when
// possible
func (c *Cache) Load(data []byte) (*goja.Program, error) {
	unit, digest, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if program, ok := c.Get(digest); ok {
		return program, nil
	}

	program, err := Compile(unit)
	if err != nil {
		return nil, err
	}
	c.Put(digest, program)
	return program, nil
}

// Store encodes unit and caches the program it was compiled into, so that
// the returned bytes load without a second compile in this process
func (c *Cache) Store(unit Unit, program *goja.Program) ([]byte, error) {
	data, err := Encode(unit)
	if err != nil {
		return nil, err
	}

	var digest Digest
	end := headerSize()
	copy(digest[:], data[end-len(digest):end])
	c.Put(digest, program)
	return data, nil
}

// Stats returns cache statistics
func (c *Cache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]interface{}{
		"size":     c.size,
		"programs": len(c.programs),
		"hits":     c.hits,
		"misses":   c.misses,
	}
}
