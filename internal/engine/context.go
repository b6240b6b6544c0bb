package engine

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf16"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
)

// uniqueIDs hands out the secondary identity of every context in the process
var uniqueIDs atomic.Int32

// ExecutionContext owns exactly one goja runtime and funnels every script
// error raised inside it through a single exception handler.
//
// Evaluation calls must be serialized by the caller. IsValid, Invalidate,
// ContextID and Owner are safe to call from any goroutine.
type ExecutionContext struct {
	contextID  int32
	uniqueID   int32
	timeOrigin time.Time
	owner      any
	handler    ExceptionHandler
	config     Config
	logger     *logging.Logger

	vm      *goja.Runtime
	invalid atomic.Bool
	release sync.Once
}

// New creates an execution context bound to contextID. The owner is kept as
// an opaque back-reference; its lifetime is never managed here.
func New(contextID int32, handler ExceptionHandler, owner any, opts ...Option) (*ExecutionContext, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}

	c := &ExecutionContext{
		contextID:  contextID,
		uniqueID:   uniqueIDs.Add(1),
		timeOrigin: time.Now(),
		owner:      owner,
		handler:    handler,
		config:     cfg,
		logger:     cfg.Logger.ForContext(contextID),
		vm:         vm,
	}

	if err := c.setupGlobals(); err != nil {
		return nil, fmt.Errorf("failed to set up globals: %w", err)
	}

	return c, nil
}

// EvaluateScript compiles and runs UTF-8 source. It returns true iff the
// script ran without an uncaught exception.
func (c *ExecutionContext) EvaluateScript(code string, sourceURL string, startLine int) bool {
	_, ok := c.Evaluate(code, sourceURL, startLine)
	return ok
}

// EvaluateScriptUTF16 is the wide-character variant of EvaluateScript
func (c *ExecutionContext) EvaluateScriptUTF16(code []uint16, sourceURL string, startLine int) bool {
	_, ok := c.Evaluate(string(utf16.Decode(code)), sourceURL, startLine)
	return ok
}

// Evaluate compiles and runs source and returns its completion value
func (c *ExecutionContext) Evaluate(code string, sourceURL string, startLine int) (goja.Value, bool) {
	if !c.IsValid() {
		return nil, false
	}

	program, err := Compile(code, sourceURL, startLine)
	if err != nil {
		c.HandleException(err)
		return nil, false
	}

	return c.RunProgram(program)
}

// RunProgram runs an already compiled program under the same rules as Evaluate
func (c *ExecutionContext) RunProgram(program *goja.Program) (goja.Value, bool) {
	if !c.IsValid() || program == nil {
		return nil, false
	}

	v, err := c.guard("evaluation", func() (goja.Value, error) {
		return c.vm.RunProgram(program)
	})
	if err != nil {
		c.HandleException(err)
		return nil, false
	}
	return v, true
}

// Invoke calls a script function with the evaluation error funnel applied
func (c *ExecutionContext) Invoke(fn goja.Callable, this goja.Value, args ...goja.Value) (goja.Value, bool) {
	if !c.IsValid() || fn == nil {
		return nil, false
	}
	if this == nil {
		this = goja.Undefined()
	}

	v, err := c.guard("call", func() (goja.Value, error) {
		return fn(this, args...)
	})
	if err != nil {
		c.HandleException(err)
		return nil, false
	}
	return v, true
}

// guard turns a panic raised by host code during run into an error. The
// exception handler must not be called inside it.
func (c *ExecutionContext) guard(what string, run func() (goja.Value, error)) (val goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, fmt.Errorf("host panic during %s: %v", what, r)
		}
	}()
	return run()
}

// IsValid reports whether the context still accepts evaluation
func (c *ExecutionContext) IsValid() bool {
	return !c.invalid.Load()
}

// Invalidate flips the validity latch. It returns true only for the call
// that performed the transition.
func (c *ExecutionContext) Invalidate() bool {
	flipped := c.invalid.CompareAndSwap(false, true)
	if flipped {
		c.logger.Debug("Execution context invalidated")
	}
	return flipped
}

// Close invalidates the context and releases the runtime. Safe to call
// more than once; the runtime is dropped exactly once.
func (c *ExecutionContext) Close() {
	c.Invalidate()
	c.release.Do(func() {
		c.vm = nil
		c.logger.Debug("Execution context released")
	})
}

// Global returns the global object, or nil once the context is invalid
func (c *ExecutionContext) Global() *goja.Object {
	if !c.IsValid() {
		return nil
	}
	return c.vm.GlobalObject()
}

// Context returns the underlying runtime, or nil once the context is invalid
func (c *ExecutionContext) Context() *goja.Runtime {
	if !c.IsValid() {
		return nil
	}
	return c.vm
}

// ContextID returns the host-assigned identity
func (c *ExecutionContext) ContextID() int32 { return c.contextID }

// UniqueID returns the process-wide secondary identity
func (c *ExecutionContext) UniqueID() int32 { return c.uniqueID }

// TimeOrigin returns the wall-clock time captured at construction
func (c *ExecutionContext) TimeOrigin() time.Time { return c.timeOrigin }

// Owner returns the opaque host-side owner
func (c *ExecutionContext) Owner() any { return c.owner }

// Logger returns the context-scoped logger
func (c *ExecutionContext) Logger() *logging.Logger { return c.logger }

// HandleException formats err and forwards it to the exception handler.
// It reports whether the handler consumed it.
func (c *ExecutionContext) HandleException(err error) bool {
	if err == nil {
		return false
	}
	return c.dispatch(toException(err))
}

// ReportError routes a host-detected diagnostic through the exception handler
func (c *ExecutionContext) ReportError(message string) {
	c.dispatch(&Exception{
		Kind:    HostReportedError,
		Message: message,
	})
}

func (c *ExecutionContext) dispatch(exc *Exception) bool {
	if c.handler == nil {
		c.logger.Error("Unhandled script exception",
			zap.String("kind", exc.Kind.String()),
			zap.String("message", exc.Message),
			zap.String("source", exc.SourceURL),
			zap.Int("line", exc.Line),
		)
		return false
	}
	return c.handler(c.contextID, exc)
}

// Compile parses source into a program. startLine shifts reported
// positions so they match the enclosing bundle.
func Compile(code string, sourceURL string, startLine int) (*goja.Program, error) {
	if startLine > 1 {
		code = strings.Repeat("\n", startLine-1) + code
	}
	program, err := goja.Compile(sourceURL, code, false)
	if err != nil {
		return nil, &compileError{err: err, sourceURL: sourceURL}
	}
	return program, nil
}

type compileError struct {
	err       error
	sourceURL string
}

func (e *compileError) Error() string { return e.err.Error() }
func (e *compileError) Unwrap() error { return e.err }

// stackLocation matches the first "at name (file:line:col(pc))" frame
var stackLocation = regexp.MustCompile(`at (?:[^\s(]+ \()?([^\s()]*):(\d+):(\d+)`)

func toException(err error) *Exception {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc
	}
	if errors.Is(err, ErrMalformedBytecode) {
		return &Exception{Kind: MalformedBytecode, Message: err.Error()}
	}

	var ce *compileError
	if errors.As(err, &ce) {
		out := &Exception{
			Kind:      CompileError,
			Message:   ce.err.Error(),
			SourceURL: ce.sourceURL,
		}
		var syntax *goja.CompilerSyntaxError
		if errors.As(ce.err, &syntax) {
			out.Message = "SyntaxError: " + syntax.Message
			if syntax.File != nil {
				pos := syntax.File.Position(syntax.Offset)
				out.Line, out.Column = pos.Line, pos.Column
			}
		}
		return out
	}

	var jsErr *goja.Exception
	if errors.As(err, &jsErr) {
		out := &Exception{
			Kind:    RuntimeException,
			Message: exceptionMessage(jsErr),
			Stack:   frameStack(jsErr.Stack()),
		}
		locate(out)
		return out
	}

	out := &Exception{
		Kind:    RuntimeException,
		Message: err.Error(),
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		out.Stack = exceptionStack(interrupted.String())
	}
	locate(out)
	return out
}

func locate(out *Exception) {
	if m := stackLocation.FindStringSubmatch(out.Stack); m != nil {
		out.SourceURL = m[1]
		out.Line, _ = strconv.Atoi(m[2])
		out.Column, _ = strconv.Atoi(m[3])
	}
}

// exceptionMessage renders "Name: message" for Error objects and the plain
// string form for any other thrown value. Conversions run script code
// (toString, getters) and may throw themselves.
func exceptionMessage(jsErr *goja.Exception) (msg string) {
	val := jsErr.Value()
	if val == nil {
		return "Uncaught exception"
	}

	defer func() {
		if r := recover(); r != nil {
			msg = "Uncaught exception: thrown value could not be converted to a string"
		}
	}()

	if obj, ok := val.(*goja.Object); ok {
		message := obj.Get("message")
		if message != nil && !goja.IsUndefined(message) {
			if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
				return name.String() + ": " + message.String()
			}
			return message.String()
		}
	}
	return val.String()
}

// frameStack renders frames the way goja prints a full stack, without
// converting the thrown value
func frameStack(frames []goja.StackFrame) string {
	var b bytes.Buffer
	for i := range frames {
		b.WriteString("\tat ")
		frames[i].Write(&b)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func exceptionStack(full string) string {
	_, stack, found := strings.Cut(full, "\n")
	if !found {
		return ""
	}
	return strings.TrimRight(stack, "\n")
}
