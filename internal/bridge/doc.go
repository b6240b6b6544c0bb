/*
Package bridge is the evaluation surface a host uses to drive script pages.

# Overview

A Bridge owns a set of pages addressed by PagePointer. Each page runs one
execution context on its own goroutine. The host may call the bridge from
any goroutine:

  - EvaluateScripts compiles and runs source, optionally returning a
    portable bytecode unit
  - EvaluateByteCode validates and runs such a unit
  - ParseHTML parses markup into the page document and waits for it
  - InvokeModuleEvent delivers a JSON event to a script module listener

# Completion

The asynchronous operations take a callback and an opaque host handle. The
callback runs on the page goroutine exactly once: with the outcome when the
task ran, or with false before the call returns when the request could not
be queued (unknown or closed page, full queue). Callbacks must not call
ClosePage or ParseHTML, which wait on the page goroutine.

# Context IDs

Every context ID passed to NewPage or CreateExecutionContext is remembered
for the life of the Bridge and refused if offered again.
*/
package bridge
