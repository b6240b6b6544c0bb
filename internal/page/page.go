package page

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/dom"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine/bytecode"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/id"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/module"
)

var (
	ErrPageClosed = errors.New("page is closed")
	ErrQueueFull  = errors.New("page task queue is full")
)

// Config defines page configuration
type Config struct {
	Engine         engine.Config
	Document       dom.Config
	ExecuteScripts bool // Run inline <script> bodies found by ParseHTML
	QueueSize      int  // Maximum pending tasks, 0 for unbounded
}

// DefaultConfig returns the default page configuration
func DefaultConfig() Config {
	return Config{
		Engine:         engine.DefaultConfig(),
		Document:       dom.DefaultConfig(),
		ExecuteScripts: true,
		QueueSize:      1024,
	}
}

// Page owns one execution context together with its document and module
// listeners. All script work runs on the page's own goroutine, in the order
// it was posted.
type Page struct {
	id       id.PageID
	config   Config
	ec       *engine.ExecutionContext
	doc      *dom.Document
	modules  *module.Registry
	programs *bytecode.Cache
	logger   *logging.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	scripts int
}

// New creates a page and starts its task loop. programs may be shared
// between pages; nil disables program caching.
func New(contextID int32, handler engine.ExceptionHandler, owner any, config Config, programs *bytecode.Cache) (*Page, error) {
	if config.Engine.Logger == nil {
		config.Engine.Logger = logging.NewNop()
	}
	if programs == nil {
		programs = bytecode.NewCache(0)
	}

	pageID := id.NewPageID()
	ec, err := engine.New(contextID, handler, owner,
		engine.WithConfig(config.Engine),
		engine.WithLogger(config.Engine.Logger.With(zap.String("page_id", pageID.String()))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution context: %w", err)
	}

	doc := dom.NewDocument(config.Document)
	if err := dom.Bind(ec, doc); err != nil {
		ec.Close()
		return nil, fmt.Errorf("failed to bind document: %w", err)
	}
	modules, err := module.Install(ec)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("failed to install module manager: %w", err)
	}

	p := &Page{
		id:       pageID,
		config:   config,
		ec:       ec,
		doc:      doc,
		modules:  modules,
		programs: programs,
		logger:   ec.Logger(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go p.loop()

	p.logger.Debug("page created")
	return p, nil
}

// ID returns the page identifier used in logs
func (p *Page) ID() id.PageID { return p.id }

// Context returns the page's execution context
func (p *Page) Context() *engine.ExecutionContext { return p.ec }

// Document returns the page's document
func (p *Page) Document() *dom.Document { return p.doc }

// Modules returns the page's module listener registry
func (p *Page) Modules() *module.Registry { return p.modules }

// Logger returns the page logger
func (p *Page) Logger() *logging.Logger { return p.logger }

// Post queues task on the page loop. It never blocks.
func (p *Page) Post(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	if p.config.QueueSize > 0 && len(p.queue) >= p.config.QueueSize {
		p.mu.Unlock()
		return ErrQueueFull
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()

	p.signal()
	return nil
}

// Do runs task on the page loop and waits for it to finish. It must not be
// called from a task.
func (p *Page) Do(task func()) error {
	finished := make(chan struct{})
	if err := p.Post(func() {
		defer close(finished)
		task()
	}); err != nil {
		return err
	}
	<-finished
	return nil
}

// Close invalidates the context and stops accepting tasks. Tasks already
// queued still run, see an invalid context, and return; the runtime is
// released once they have drained. Close does not wait, use Done for that.
func (p *Page) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.ec.Invalidate()
	p.signal()
	p.logger.Debug("page closed")
}

// Done is closed once the loop has exited and the runtime is released
func (p *Page) Done() <-chan struct{} { return p.done }

func (p *Page) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Page) loop() {
	defer close(p.done)
	defer p.ec.Close()

	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		closed := p.closed
		p.mu.Unlock()

		for _, task := range batch {
			p.run(task)
		}
		if len(batch) == 0 {
			if closed {
				return
			}
			<-p.wake
		}
	}
}

func (p *Page) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("page task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// The methods below touch the runtime and must run on the page loop.

// EvaluateBundle compiles and runs code. When emit is true and the code
// compiles, the portable unit is returned even if running it throws.
func (p *Page) EvaluateBundle(code, filename string, startLine int, emit bool) ([]byte, bool) {
	if !p.ec.IsValid() {
		return nil, false
	}

	program, err := engine.Compile(code, filename, startLine)
	if err != nil {
		p.ec.HandleException(err)
		return nil, false
	}

	var unit []byte
	if emit {
		unit, err = p.programs.Store(bytecode.Unit{
			Filename:  filename,
			StartLine: startLine,
			Source:    code,
		}, program)
		if err != nil {
			p.ec.ReportError(fmt.Sprintf("failed to serialize %s: %v", filename, err))
			return nil, false
		}
	}

	_, ok := p.ec.RunProgram(program)
	return unit, ok
}

// EvaluateByteCode validates and runs a unit produced by EvaluateBundle.
// Malformed input is reported and leaves the context untouched.
func (p *Page) EvaluateByteCode(data []byte) bool {
	if !p.ec.IsValid() {
		return false
	}

	program, err := p.programs.Load(data)
	if err != nil {
		p.logger.Warn("rejected bytecode", zap.Error(err), zap.Int("size", len(data)))
		p.ec.HandleException(err)
		return false
	}

	_, ok := p.ec.RunProgram(program)
	return ok
}

// ParseHTML parses markup into the document and runs its inline scripts in
// document order. Failures go to the exception handler.
func (p *Page) ParseHTML(data []byte) {
	if !p.ec.IsValid() {
		return
	}

	result, err := p.doc.Parse(data)
	if err != nil {
		p.ec.ReportError(fmt.Sprintf("failed to parse markup: %v", err))
		return
	}
	p.logger.Debug("parsed markup",
		zap.String("charset", result.Charset),
		zap.Int("elements", result.Elements),
		zap.Int("scripts", len(result.Scripts)))

	if !p.config.ExecuteScripts {
		return
	}
	for _, script := range result.Scripts {
		p.scripts++
		p.ec.EvaluateScript(script.Source, fmt.Sprintf("inline-script-%d.js", p.scripts), 1)
	}
}

// DispatchModuleEvent delivers a module event to its script listener
func (p *Page) DispatchModuleEvent(moduleName, eventType string, event, extra []byte) module.Result {
	if !p.ec.IsValid() {
		return module.Result{Err: engine.ErrInvalidContext}
	}
	return p.modules.Dispatch(moduleName, eventType, event, extra)
}
