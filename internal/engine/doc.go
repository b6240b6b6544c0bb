/*
Package engine provides the execution context that owns one goja runtime.

# Overview

An ExecutionContext is created with a host-chosen context ID, an exception
handler and an opaque owner. It exposes:

  - Evaluation of UTF-8 and UTF-16 source (EvaluateScript, EvaluateScriptUTF16)
  - Evaluation of compiled programs (RunProgram) and script callbacks (Invoke)
  - A one-way validity latch (IsValid, Invalidate)
  - A single exception funnel (HandleException, ReportError)

# Error Funnel

Every uncaught compile or runtime error is converted to a structured
*Exception and handed to the ExceptionHandler exactly once per failing call.
Evaluation on an invalidated context returns false without reporting
anything: the caller, not the script, made the mistake.

# Threading

goja runtimes are not goroutine safe. The owner of a context must serialize
evaluation; only IsValid, Invalidate and the pure accessors may be called
concurrently.

# Usage Example

	ctx, err := engine.New(7, func(id int32, exc *engine.Exception) bool {
		log.Error("script error", zap.String("message", exc.Message))
		return true
	}, page)
	if err != nil {
		return err
	}
	defer ctx.Close()

	ok := ctx.EvaluateScript("var a = 1", "main.js", 1)
*/
package engine
