package bridge

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/page"
)

var (
	ErrUnknownPage      = errors.New("unknown page")
	ErrContextIDReused  = errors.New("context id already used")
	ErrPageClosed       = page.ErrPageClosed
	ErrRegistryShutdown = errors.New("bridge is shut down")
)

// Registry maps page pointers to pages and remembers every context ID handed
// out in this process
type Registry struct {
	mu            sync.RWMutex
	pages         map[PagePointer]*page.Page
	contextIDs    map[int32]struct{}
	nextPointer   PagePointer
	nextContextID int32
	shutdown      bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		pages:      make(map[PagePointer]*page.Page),
		contextIDs: make(map[int32]struct{}),
	}
}

// Reserve claims contextID. An ID can be reserved once per process, even
// after the context that used it has been destroyed.
func (r *Registry) Reserve(contextID int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return ErrRegistryShutdown
	}
	if _, used := r.contextIDs[contextID]; used {
		return fmt.Errorf("%w: %d", ErrContextIDReused, contextID)
	}
	r.contextIDs[contextID] = struct{}{}
	return nil
}

// NextContextID returns an ID that has not been reserved yet
func (r *Registry) NextContextID() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		r.nextContextID++
		if _, used := r.contextIDs[r.nextContextID]; !used {
			return r.nextContextID
		}
	}
}

// Allocate returns the pointer the next added page will use
func (r *Registry) Allocate() PagePointer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPointer++
	return r.nextPointer
}

// Add stores p under ptr
func (r *Registry) Add(ptr PagePointer, p *page.Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return ErrRegistryShutdown
	}
	r.pages[ptr] = p
	return nil
}

// Get looks up a page
func (r *Registry) Get(ptr PagePointer) (*page.Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pages[ptr]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPage, ptr)
	}
	return p, nil
}

// Remove deletes a page and returns it
func (r *Registry) Remove(ptr PagePointer) (*page.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pages[ptr]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPage, ptr)
	}
	delete(r.pages, ptr)
	return p, nil
}

// Drain removes every page and refuses new ones
func (r *Registry) Drain() []*page.Page {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shutdown = true
	pages := make([]*page.Page, 0, len(r.pages))
	for ptr, p := range r.pages {
		pages = append(pages, p)
		delete(r.pages, ptr)
	}
	return pages
}

// Pointers returns the open page pointers in allocation order
func (r *Registry) Pointers() []PagePointer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ptrs := make([]PagePointer, 0, len(r.pages))
	for ptr := range r.pages {
		ptrs = append(ptrs, ptr)
	}
	sort.Slice(ptrs, func(i, j int) bool { return ptrs[i] < ptrs[j] })
	return ptrs
}

// Len returns the number of open pages
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pages)
}
