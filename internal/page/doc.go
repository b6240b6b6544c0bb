// Package page ties an execution context to its document, its module
// listeners and the goroutine that serializes all work on them.
//
// Hosts call Post (or Do) from any goroutine; tasks run one at a time in
// posting order. Closing a page invalidates its context immediately, lets
// already queued tasks drain against the invalid context, and then releases
// the runtime.
package page
