package engine

import (
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// setupGlobals installs the host-provided globals every context starts with
func (c *ExecutionContext) setupGlobals() error {
	if c.config.EnableConsole {
		console := c.vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			if err := console.Set(level, c.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		if err := c.vm.Set("console", console); err != nil {
			return err
		}
	}

	performance := c.vm.NewObject()
	if err := performance.Set("now", func(goja.FunctionCall) goja.Value {
		elapsed := time.Since(c.timeOrigin)
		return c.vm.ToValue(float64(elapsed.Microseconds()) / 1000)
	}); err != nil {
		return err
	}
	if err := performance.Set("timeOrigin", float64(c.timeOrigin.UnixMicro())/1000); err != nil {
		return err
	}
	return c.vm.Set("performance", performance)
}

// makeConsoleFunc creates a console function writing to the context logger
func (c *ExecutionContext) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		msg := strings.Join(parts, " ")

		fields := []zap.Field{zap.String("level", level), zap.String("message", msg)}
		switch level {
		case "error":
			c.logger.Error("console", fields...)
		case "warn":
			c.logger.Warn("console", fields...)
		case "debug":
			c.logger.Debug("console", fields...)
		default:
			c.logger.Info("console", fields...)
		}

		return goja.Undefined()
	}
}
