package bridge

import "sync"

// Completion delivers a single result to its callback. Only the first
// Complete call has any effect, so a task may complete early and still keep
// a deferred fallback.
type Completion[T any] struct {
	once  sync.Once
	fn    func(T)
	done  chan struct{}
	value T
}

// NewCompletion creates a completion that calls fn with the result. fn may
// be nil.
func NewCompletion[T any](fn func(T)) *Completion[T] {
	return &Completion[T]{
		fn:   fn,
		done: make(chan struct{}),
	}
}

// Complete delivers value and reports whether this call was the one that
// completed
func (c *Completion[T]) Complete(value T) bool {
	completed := false
	c.once.Do(func() {
		completed = true
		c.value = value
		defer close(c.done)
		if c.fn != nil {
			c.fn(value)
		}
	})
	return completed
}

// Done is closed after the callback has returned
func (c *Completion[T]) Done() <-chan struct{} { return c.done }

// Value returns the delivered result. It is only meaningful after Done.
func (c *Completion[T]) Value() T {
	<-c.done
	return c.value
}

// The adapters below bind the exported callback shapes to a completion.

func scriptsCompletion(host HostHandle, cb EvaluateScriptsCallback, after func(bool)) *Completion[bool] {
	return NewCompletion(func(ok bool) {
		after(ok)
		if cb != nil {
			cb(host, ok)
		}
	})
}

func byteCodeCompletion(persisted PersistentHandle, cb EvaluateByteCodeCallback, after func(bool)) *Completion[bool] {
	return NewCompletion(func(ok bool) {
		after(ok)
		if cb != nil {
			cb(persisted, ok)
		}
	})
}

func moduleEventCompletion(host HostHandle, cb InvokeModuleEventCallback, after func(bool)) *Completion[ModuleEventResult] {
	return NewCompletion(func(result ModuleEventResult) {
		after(result.OK)
		if cb != nil {
			cb(host, result)
		}
	})
}
