package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/bridge"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine/bytecode"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/loader"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
)

var errBundlesFailed = errors.New("one or more bundles failed")

// runner evaluates bundles into a single page and reports to out
type runner struct {
	bridge *bridge.Bridge
	loader *loader.Loader
	ptr    bridge.PagePointer

	mu         sync.Mutex
	out        io.Writer
	exceptions int
}

func newRunner(cfg *config.Config, logger *logging.Logger, out io.Writer) (*runner, error) {
	r := &runner{out: out}
	r.bridge = bridge.New(
		bridge.WithConfig(cfg.Bridge(logger)),
		bridge.WithLogger(logger),
		bridge.WithExceptionObserver(r.report),
	)
	r.loader = loader.New(cfg.Bundles(), logger.Named("loader"))

	ptr, err := r.bridge.NewPage(r.bridge.NextContextID(), func(int32, *engine.Exception) bool { return true }, nil)
	if err != nil {
		r.bridge.Close()
		return nil, err
	}
	r.ptr = ptr
	return r, nil
}

// report prints an exception; it runs on the page goroutine
func (r *runner) report(_ bridge.PagePointer, _ int32, exc *engine.Exception) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exceptions++
	fmt.Fprintf(r.out, "%s %s\n", errorStyle.Render(exc.Kind.String()+":"), exc.Error())
	if exc.Stack != "" {
		fmt.Fprintln(r.out, mutedStyle.Render(exc.Stack))
	}
}

func (r *runner) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// Exceptions returns how many exceptions the page raised
func (r *runner) Exceptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exceptions
}

// run evaluates one bundle. When emitDir is set, script bundles are also
// written there as bytecode.
func (r *runner) run(b loader.Bundle, emitDir string) bool {
	var ok bool
	switch b.Kind {
	case loader.KindScript:
		var unit []byte
		var out *[]byte
		if emitDir != "" {
			out = &unit
		}
		done := make(chan bool, 1)
		r.bridge.EvaluateScripts(r.ptr, b.Data, out, b.Name, 1, 0, func(_ bridge.HostHandle, success bool) {
			done <- success
		})
		ok = <-done
		if emitDir != "" && unit != nil {
			path, err := writeUnit(emitDir, b.Name, unit)
			if err != nil {
				r.printf("%s %v\n", errorStyle.Render("write failed:"), err)
				ok = false
			} else {
				r.printf("%s %s\n", mutedStyle.Render("bytecode"), path)
			}
		}
	case loader.KindBytecode:
		done := make(chan bool, 1)
		r.bridge.EvaluateByteCode(r.ptr, b.Data, 0, func(_ bridge.PersistentHandle, success bool) {
			done <- success
		})
		ok = <-done
	case loader.KindMarkup:
		r.bridge.ParseHTML(r.ptr, b.Data)
		ok = true
	default:
		r.printf("%s %s\n", warningStyle.Render("skipped unknown bundle"), b.Name)
		return true
	}

	status := successStyle.Render("ok")
	if !ok {
		status = errorStyle.Render("failed")
	}
	r.printf("%s %s %s\n", status, mutedStyle.Render(b.Kind.String()), b.Name)
	return ok
}

// runAll evaluates bundles in order and reports whether all succeeded
func (r *runner) runAll(bundles []loader.Bundle, emitDir string) bool {
	ok := true
	for _, b := range bundles {
		if !r.run(b, emitDir) {
			ok = false
		}
	}
	return ok
}

// Document serializes the page document
func (r *runner) Document() (string, error) {
	p, err := r.bridge.Page(r.ptr)
	if err != nil {
		return "", err
	}
	var markup string
	var renderErr error
	if err := p.Do(func() { markup, renderErr = p.Document().HTML() }); err != nil {
		return "", err
	}
	return markup, renderErr
}

func (r *runner) Close() {
	r.bridge.Close()
}

// writeUnit stores unit as <dir>/<base>.gjbc
func writeUnit(dir, name string, unit []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(name)
	path := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".gjbc")
	if err := os.WriteFile(path, unit, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// compileBundle checks a script bundle for syntax errors and encodes it
// without running it
func compileBundle(b loader.Bundle) ([]byte, error) {
	if b.Kind != loader.KindScript {
		return nil, fmt.Errorf("%s is a %s bundle", b.Name, b.Kind)
	}
	if _, err := engine.Compile(string(b.Data), b.Name, 1); err != nil {
		return nil, err
	}
	return bytecode.Encode(bytecode.Unit{Filename: b.Name, StartLine: 1, Source: string(b.Data)})
}
