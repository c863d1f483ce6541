package sentry

import (
	"errors"
	"reflect"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// maxErrorDepth bounds how many wrapped causes are reported.
const maxErrorDepth = 10

// exceptions converts err and the causes it wraps into the exception list,
// root cause first. stack is attached to err itself.
func exceptions(err error, stack *protocol.Stacktrace) []protocol.Exception {
	var chain []protocol.Exception
	for e := err; e != nil && len(chain) < maxErrorDepth; e = errors.Unwrap(e) {
		chain = append(chain, protocol.Exception{
			Type:  reflect.TypeOf(e).String(),
			Value: e.Error(),
		})
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	handled := true
	last := &chain[len(chain)-1]
	last.Stacktrace = stack
	last.Mechanism = &protocol.Mechanism{Type: "generic", Handled: &handled}
	return chain
}
