package stacktrace

import (
	"runtime"
)

// RawFrame is one call-stack entry as reported by a Provider.
type RawFrame struct {
	// File is the absolute source path.
	File string
	// Function is the package qualified function name, possibly empty.
	Function string
	Line     int
	// Vars are captured local variables, if the provider has any.
	Vars map[string]any
}

// Provider reports the current call stack, innermost frame first.
type Provider interface {
	Callers(skip int) []RawFrame
}

// RuntimeProvider reads the stack of the calling goroutine.
type RuntimeProvider struct {
	// MaxFrames bounds the depth read; 0 means 64.
	MaxFrames int
}

// Callers skips skip frames above its caller.
func (p RuntimeProvider) Callers(skip int) []RawFrame {
	n := p.MaxFrames
	if n <= 0 {
		n = 64
	}
	pc := make([]uintptr, n)
	pc = pc[:runtime.Callers(skip+2, pc)]
	if len(pc) == 0 {
		return nil
	}

	out := make([]RawFrame, 0, len(pc))
	frames := runtime.CallersFrames(pc)
	for {
		frame, more := frames.Next()
		out = append(out, RawFrame{
			File:     frame.File,
			Function: frame.Function,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}
	return out
}
