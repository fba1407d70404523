package authz

import "github.com/fathomlabs/authz/logger"

// Logger is re-exported so callers can implement it without importing the
// logger subpackage.
type Logger = logger.Logger

// TraceIDFunc is re-exported alongside Logger.
type TraceIDFunc = logger.TraceIDFunc

// WithLogger installs a Logger on the Engine via EngineOption
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithTraceIDFunc installs a custom trace ID generator on the engine.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.traceID = f
		}
	}
}
