package observer

import (
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
)

// BeforeListener runs before the action body. A non-nil result becomes the
// response and the body is skipped.
type BeforeListener interface {
	Before(call *Call) any
}

// AfterListener runs after a successful body. The first non-nil result
// replaces the response and ends the chain.
type AfterListener interface {
	After(call *Call, result any) any
}

// CatchListener receives errors and recovered panics of the body. A
// non-nil result handles the error and becomes the response.
type CatchListener interface {
	Catch(call *Call, err error) any
}

// ReplacedListener is told when a before listener answered in place of
// the action body. It can not change the response.
type ReplacedListener interface {
	Replaced(call *Call, result any)
}

// Handler transforms the argument of a named extension point
type Handler func(call *Call, arg any) any

// VerbListener takes part in named pipelines driven by Call.Handle
type VerbListener interface {
	Handlers() map[string]Handler
}

// Hooks implements every listener interface with optional funcs
type Hooks struct {
	OnBefore   func(call *Call) any
	OnAfter    func(call *Call, result any) any
	OnCatch    func(call *Call, err error) any
	OnReplaced func(call *Call, result any)
	Verbs      map[string]Handler
}

func (h *Hooks) Before(call *Call) any {
	if h.OnBefore == nil {
		return nil
	}
	return h.OnBefore(call)
}

func (h *Hooks) After(call *Call, result any) any {
	if h.OnAfter == nil {
		return nil
	}
	return h.OnAfter(call, result)
}

func (h *Hooks) Catch(call *Call, err error) any {
	if h.OnCatch == nil {
		return nil
	}
	return h.OnCatch(call, err)
}

func (h *Hooks) Replaced(call *Call, result any) {
	if h.OnReplaced != nil {
		h.OnReplaced(call, result)
	}
}

func (h *Hooks) Handlers() map[string]Handler {
	return h.Verbs
}

// Subscription binds a listener factory to the actions it listens to.
// Factory is called for every hook invocation so listeners never share
// state between calls. Freeze calls it once more to learn which listener
// interfaces the instances implement; hooks they lack are never called.
type Subscription struct {
	Factory  func() any
	Priority int
	// Listen holds regular expressions anchored at the start of the
	// action name
	Listen []string
	// ListenGlob holds glob patterns with "/" as separator
	ListenGlob []string
	// Name identifies the listener in logs
	Name string
}

type hook uint8

const (
	hookBefore hook = 1 << iota
	hookAfter
	hookCatch
	hookReplaced
	hookVerb
)

func hooksOf(l any) hook {
	var h hook
	if _, ok := l.(BeforeListener); ok {
		h |= hookBefore
	}
	if _, ok := l.(AfterListener); ok {
		h |= hookAfter
	}
	if _, ok := l.(CatchListener); ok {
		h |= hookCatch
	}
	if _, ok := l.(ReplacedListener); ok {
		h |= hookReplaced
	}
	if _, ok := l.(VerbListener); ok {
		h |= hookVerb
	}
	return h
}

type subscription struct {
	Subscription
	hooks    hook
	order    int
	patterns []*regexp.Regexp
	globs    []glob.Glob
}

func compileSubscription(s Subscription, order int) (*subscription, error) {
	if s.Factory == nil {
		return nil, ErrNoFactory
	}
	sub := &subscription{Subscription: s, order: order}
	if sub.Name == "" {
		sub.Name = fmt.Sprintf("listener#%d", order)
	}
	for _, p := range s.Listen {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, fmt.Errorf("listener %s: %w", sub.Name, err)
		}
		sub.patterns = append(sub.patterns, re)
	}
	for _, p := range s.ListenGlob {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("listener %s: glob %q: %w", sub.Name, p, err)
		}
		sub.globs = append(sub.globs, g)
	}
	return sub, nil
}

func (s *subscription) has(h hook) bool {
	return s.hooks&h != 0
}

func (s *subscription) matches(name string) bool {
	if len(s.patterns) == 0 && len(s.globs) == 0 {
		return true
	}
	for _, re := range s.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	for _, g := range s.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
