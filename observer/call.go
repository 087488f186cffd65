package observer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/maxpert/objectpack/telemetry"
	"github.com/rs/zerolog/log"
)

// Request is the incoming request an action is invoked for
type Request struct {
	HTTP   *http.Request
	Params map[string]any
}

// Param returns a raw request parameter
func (r Request) Param(name string) (any, bool) {
	v, ok := r.Params[name]
	return v, ok
}

// Call is the state of one action invocation handed to listeners
type Call struct {
	Context context.Context
	Action  any
	Name    string
	Request Request
	// ActionContext is the declared context built by the action
	ActionContext any

	observer  *Observer
	listeners []*subscription
}

// Observer returns the registry the call was dispatched by
func (c *Call) Observer() *Observer {
	return c.observer
}

// Handle passes arg through every listener of the action that handles
// verb and returns the final value.
func (c *Call) Handle(verb string, arg any) any {
	for _, sub := range c.listeners {
		if !sub.has(hookVerb) {
			continue
		}
		vl, ok := sub.Factory().(VerbListener)
		if !ok {
			continue
		}
		h := vl.Handlers()[verb]
		if h == nil {
			continue
		}
		telemetry.ListenerCallsTotal.With(verb).Inc()
		if c.observer.verbosity >= LogMore {
			log.Debug().Str("action", c.Name).Str("listener", sub.Name).Str("verb", verb).Msg("Listener handles verb")
		}
		arg = h(c, arg)
	}
	return arg
}

// HandleAs is Handle for pipelines with a fixed argument type. A
// listener aborts the pipeline result by returning an error value.
func HandleAs[T any](c *Call, verb string, arg T) (T, error) {
	res := c.Handle(verb, arg)
	if res == nil {
		var zero T
		return zero, nil
	}
	v, ok := res.(T)
	if err, isErr := res.(error); isErr && !ok {
		return arg, err
	}
	if !ok {
		return arg, fmt.Errorf("listener for %q returned %T, expected %T", verb, res, arg)
	}
	return v, nil
}
