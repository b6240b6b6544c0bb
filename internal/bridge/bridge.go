package bridge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine/bytecode"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/id"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/page"
)

// Config defines bridge configuration
type Config struct {
	Page             page.Config
	ProgramCacheSize int // Compiled programs kept across pages, 0 disables
}

// DefaultConfig returns the default bridge configuration
func DefaultConfig() Config {
	return Config{
		Page:             page.DefaultConfig(),
		ProgramCacheSize: 256,
	}
}

// ExceptionObserver sees every exception after it has been counted and
// before it reaches the page's own handler
type ExceptionObserver func(ptr PagePointer, contextID int32, exc *engine.Exception)

// Option customizes a Bridge
type Option func(*Bridge)

// WithConfig replaces the bridge configuration
func WithConfig(config Config) Option {
	return func(b *Bridge) { b.config = config }
}

// WithLogger sets the bridge logger
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithMetrics records operations and exceptions on metrics
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(b *Bridge) { b.metrics = metrics }
}

// WithExceptionObserver installs an observer for every page
func WithExceptionObserver(observer ExceptionObserver) Option {
	return func(b *Bridge) { b.observer = observer }
}

// Bridge is the evaluation surface hosts drive. Every operation may be
// called from any goroutine; the work itself runs on the addressed page's
// loop and completion callbacks run there too, exactly once.
type Bridge struct {
	config   Config
	registry *Registry
	programs *bytecode.Cache
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	observer ExceptionObserver
}

// New creates a bridge
func New(opts ...Option) *Bridge {
	b := &Bridge{
		config:   DefaultConfig(),
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NewNop()
	}
	if b.config.Page.Engine.Logger == nil {
		b.config.Page.Engine.Logger = b.logger
	}
	b.programs = bytecode.NewCache(b.config.ProgramCacheSize)
	return b
}

// CreateExecutionContext builds a standalone context whose ID is reserved
// for the life of the process. The caller owns the result and must Close it.
func (b *Bridge) CreateExecutionContext(contextID int32, handler engine.ExceptionHandler, owner any) (*engine.ExecutionContext, error) {
	if err := b.registry.Reserve(contextID); err != nil {
		return nil, err
	}
	return engine.New(contextID, b.instrument(0, handler), owner, engine.WithConfig(b.config.Page.Engine))
}

// NewPage creates a page whose context uses contextID
func (b *Bridge) NewPage(contextID int32, handler engine.ExceptionHandler, owner any) (PagePointer, error) {
	if err := b.registry.Reserve(contextID); err != nil {
		return 0, err
	}

	ptr := b.registry.Allocate()
	p, err := page.New(contextID, b.instrument(ptr, handler), owner, b.config.Page, b.programs)
	if err != nil {
		return 0, fmt.Errorf("failed to create page: %w", err)
	}
	if err := b.registry.Add(ptr, p); err != nil {
		p.Close()
		return 0, err
	}

	b.metrics.SetPagesActive(b.registry.Len())
	b.logger.Info("page opened",
		logging.Page(uintptr(ptr)),
		logging.ContextID(contextID),
		zap.String("page_id", p.ID().String()))
	return ptr, nil
}

// NextContextID returns a context ID that no page has used
func (b *Bridge) NextContextID() int32 {
	return b.registry.NextContextID()
}

// Page returns the page behind ptr
func (b *Bridge) Page(ptr PagePointer) (*page.Page, error) {
	return b.registry.Get(ptr)
}

// Pages returns the open page pointers
func (b *Bridge) Pages() []PagePointer {
	return b.registry.Pointers()
}

// ClosePage invalidates the page's context and waits for its queued work to
// drain. It must not be called from a callback.
func (b *Bridge) ClosePage(ptr PagePointer) error {
	p, err := b.registry.Remove(ptr)
	if err != nil {
		return err
	}
	p.Close()
	<-p.Done()

	b.metrics.SetPagesActive(b.registry.Len())
	b.logger.Info("page closed", logging.Page(uintptr(ptr)))
	return nil
}

// Close closes every page and refuses new ones
func (b *Bridge) Close() {
	pages := b.registry.Drain()
	for _, p := range pages {
		p.Close()
	}
	for _, p := range pages {
		<-p.Done()
	}
	b.metrics.SetPagesActive(0)
}

// ProgramStats returns statistics of the shared program cache
func (b *Bridge) ProgramStats() map[string]interface{} {
	return b.programs.Stats()
}

// EvaluateScripts compiles and runs code on the page. When bytecodeOut is
// non-nil and the code compiles, the portable unit is stored there before
// cb runs. The return value reports whether the request was queued; when it
// is false cb has already been called with false.
func (b *Bridge) EvaluateScripts(ptr PagePointer, code []byte, bytecodeOut *[]byte, bundleFilename string, startLine int32, host HostHandle, cb EvaluateScriptsCallback) bool {
	reqID := id.NewRequestID()
	timer := monitoring.NewTimer(b.metrics, OpEvaluateScripts)
	done := scriptsCompletion(host, cb, b.finish(timer, OpEvaluateScripts, reqID))

	p, err := b.registry.Get(ptr)
	if err != nil {
		b.reject(OpEvaluateScripts, reqID, err)
		done.Complete(false)
		return false
	}

	source := string(code)
	emit := bytecodeOut != nil
	err = p.Post(func() {
		defer done.Complete(false)

		unit, ok := p.EvaluateBundle(source, bundleFilename, int(startLine), emit)
		if emit && unit != nil {
			*bytecodeOut = unit
		}
		done.Complete(ok)
	})
	if err != nil {
		b.reject(OpEvaluateScripts, reqID, err)
		done.Complete(false)
		return false
	}

	b.logger.Debug("operation queued",
		logging.Operation(OpEvaluateScripts),
		logging.RequestID(reqID.String()),
		zap.String("bundle", bundleFilename),
		zap.Int("size", len(code)))
	return true
}

// EvaluateByteCode runs a unit produced by EvaluateScripts. The unit is
// validated before anything runs; malformed input completes with false and
// leaves the context valid.
func (b *Bridge) EvaluateByteCode(ptr PagePointer, data []byte, persisted PersistentHandle, cb EvaluateByteCodeCallback) bool {
	reqID := id.NewRequestID()
	timer := monitoring.NewTimer(b.metrics, OpEvaluateByteCode)
	done := byteCodeCompletion(persisted, cb, b.finish(timer, OpEvaluateByteCode, reqID))

	p, err := b.registry.Get(ptr)
	if err != nil {
		b.reject(OpEvaluateByteCode, reqID, err)
		done.Complete(false)
		return false
	}

	unit := append([]byte(nil), data...)
	err = p.Post(func() {
		defer done.Complete(false)
		done.Complete(p.EvaluateByteCode(unit))
	})
	if err != nil {
		b.reject(OpEvaluateByteCode, reqID, err)
		done.Complete(false)
		return false
	}
	return true
}

// ParseHTML parses markup into the page's document and waits for it, and
// any inline scripts it carries, to finish. Failures are reported through
// the page's exception handler. It must not be called from a callback.
func (b *Bridge) ParseHTML(ptr PagePointer, code []byte) {
	timer := monitoring.NewTimer(b.metrics, OpParseHTML)

	p, err := b.registry.Get(ptr)
	if err != nil {
		timer.Stop(monitoring.StatusRejected)
		b.logger.Warn("parse html rejected", logging.Page(uintptr(ptr)), zap.Error(err))
		return
	}

	markup := append([]byte(nil), code...)
	if err := p.Do(func() { p.ParseHTML(markup) }); err != nil {
		timer.Stop(monitoring.StatusRejected)
		b.logger.Warn("parse html rejected", logging.Page(uintptr(ptr)), zap.Error(err))
		return
	}
	timer.Stop(monitoring.StatusOK)
}

// InvokeModuleEvent dispatches an event to the script listener registered
// for moduleName. event and extra are JSON documents and may be empty.
func (b *Bridge) InvokeModuleEvent(ptr PagePointer, moduleName, eventType string, event, extra []byte, host HostHandle, cb InvokeModuleEventCallback) bool {
	reqID := id.NewRequestID()
	timer := monitoring.NewTimer(b.metrics, OpInvokeModuleEvent)
	done := moduleEventCompletion(host, cb, b.finish(timer, OpInvokeModuleEvent, reqID))

	p, err := b.registry.Get(ptr)
	if err != nil {
		b.reject(OpInvokeModuleEvent, reqID, err)
		done.Complete(ModuleEventResult{})
		return false
	}

	eventData := append([]byte(nil), event...)
	extraData := append([]byte(nil), extra...)
	err = p.Post(func() {
		defer done.Complete(ModuleEventResult{})

		res := p.DispatchModuleEvent(moduleName, eventType, eventData, extraData)
		if res.Err != nil && !errors.Is(res.Err, engine.ErrInvalidContext) {
			p.Logger().Warn("module event failed",
				zap.String("module", moduleName),
				logging.RequestID(reqID.String()),
				zap.Error(res.Err))
		}
		done.Complete(ModuleEventResult{OK: res.OK, Value: res.Value})
	})
	if err != nil {
		b.reject(OpInvokeModuleEvent, reqID, err)
		done.Complete(ModuleEventResult{})
		return false
	}
	return true
}

func (b *Bridge) finish(timer *monitoring.Timer, op string, reqID id.RequestID) func(bool) {
	return func(ok bool) {
		status := monitoring.StatusOK
		if !ok {
			status = monitoring.StatusFailed
		}
		timer.Stop(status)
		b.logger.Debug("operation completed",
			logging.Operation(op),
			logging.RequestID(reqID.String()),
			zap.Bool("ok", ok))
	}
}

// reject logs a request that never reached a page loop
func (b *Bridge) reject(op string, reqID id.RequestID, err error) {
	b.logger.Warn("operation rejected",
		logging.Operation(op),
		logging.RequestID(reqID.String()),
		zap.Error(err))
}

// instrument wraps a page handler with metrics, observation and a logging
// fallback for hosts that pass no handler
func (b *Bridge) instrument(ptr PagePointer, handler engine.ExceptionHandler) engine.ExceptionHandler {
	return func(contextID int32, exc *engine.Exception) bool {
		b.metrics.RecordException(exc.Kind.String())
		if exc.Kind == engine.MalformedBytecode {
			b.metrics.IncBytecodeRejected()
		}
		if b.observer != nil {
			b.observer(ptr, contextID, exc)
		}

		if handler != nil {
			return handler(contextID, exc)
		}
		b.logger.Error("script exception",
			logging.ContextID(contextID),
			zap.String("kind", exc.Kind.String()),
			zap.String("message", exc.Message),
			zap.String("source", exc.SourceURL),
			zap.Int("line", exc.Line),
			zap.Int("column", exc.Column))
		return true
	}
}
