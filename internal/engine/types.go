package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
)

var (
	ErrInvalidContext    = errors.New("execution context is no longer valid")
	ErrMalformedBytecode = errors.New("malformed bytecode")
)

// ErrorKind classifies a reported exception
type ErrorKind int

const (
	CompileError ErrorKind = iota
	RuntimeException
	InvalidContextUse
	MalformedBytecode
	HostReportedError
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	switch k {
	case CompileError:
		return "compile_error"
	case RuntimeException:
		return "runtime_exception"
	case InvalidContextUse:
		return "invalid_context"
	case MalformedBytecode:
		return "malformed_bytecode"
	case HostReportedError:
		return "host_error"
	default:
		return "unknown"
	}
}

// Exception is the structured form of a script error handed to the host.
// It never carries live engine values.
type Exception struct {
	Kind      ErrorKind
	Message   string
	Stack     string
	SourceURL string
	Line      int
	Column    int
}

// Error implements error
func (e *Exception) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.SourceURL != "" {
		fmt.Fprintf(&sb, " (%s:%d:%d)", e.SourceURL, e.Line, e.Column)
	}
	return sb.String()
}

// String returns the message followed by the stack trace, if any
func (e *Exception) String() string {
	if e.Stack == "" {
		return e.Message
	}
	return e.Message + "\n" + e.Stack
}

// ExceptionHandler receives every uncaught script error and host-reported
// diagnostic raised inside a context. The return value tells the context
// whether the report was consumed.
type ExceptionHandler func(contextID int32, exc *Exception) bool

// Config defines execution context configuration
type Config struct {
	MaxCallStackSize int  // Maximum JS call depth, 0 keeps the engine default
	EnableConsole    bool // Install console.log/warn/error/info
	Logger           *logging.Logger
}

// DefaultConfig returns the configuration used when no options are given
func DefaultConfig() Config {
	return Config{
		MaxCallStackSize: 1024,
		EnableConsole:    true,
	}
}

// Option customizes an execution context at construction
type Option func(*Config)

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		logger := c.Logger
		*c = cfg
		if c.Logger == nil {
			c.Logger = logger
		}
	}
}

// WithLogger routes console output and diagnostics to logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMaxCallStackSize bounds recursion depth inside the runtime
func WithMaxCallStackSize(size int) Option {
	return func(c *Config) {
		c.MaxCallStackSize = size
	}
}

// WithConsole toggles the console global
func WithConsole(enabled bool) Option {
	return func(c *Config) {
		c.EnableConsole = enabled
	}
}
