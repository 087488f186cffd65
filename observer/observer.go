package observer

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/objectpack/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Verbosity controls how much the observer logs
type Verbosity int

const (
	LogNone Verbosity = iota
	LogWarnings
	LogCalls
	LogMore
)

// ParseVerbosity maps the configuration names to levels
func ParseVerbosity(s string) (Verbosity, error) {
	switch s {
	case "none":
		return LogNone, nil
	case "", "warnings":
		return LogWarnings, nil
	case "calls":
		return LogCalls, nil
	case "more":
		return LogMore, nil
	}
	return LogNone, fmt.Errorf("invalid verbosity: %s", s)
}

// Pack is a group of actions registered with the observer
type Pack interface {
	ObserverActions() []any
	ObserverSubpacks() []Pack
}

// ModelBound packs serve a model; at most one pack per model is primary
type ModelBound interface {
	ModelName() string
	PrimaryForModel() bool
}

// ModelResolverAware packs receive the model to primary pack resolver on
// registration.
type ModelResolverAware interface {
	SetModelResolver(resolve func(model string) Pack)
}

// Options configures an Observer
type Options struct {
	Verbosity Verbosity
	// Debug makes declaration problems fatal instead of warnings
	Debug bool
}

// Observer is the registry of packs, actions and listeners. Packs and
// subscriptions are added before Freeze; actions are invoked after it.
type Observer struct {
	mu        sync.RWMutex
	frozen    bool
	verbosity Verbosity
	debug     bool

	packs       map[string]Pack
	models      map[string]Pack
	actions     map[string]any
	actionNames map[any]string

	subscriptions []*subscription
	listeners     map[string][]*subscription

	calls *xsync.MapOf[string, *xsync.Counter]
}

// New creates an empty observer
func New(opts Options) *Observer {
	return &Observer{
		verbosity:   opts.Verbosity,
		debug:       opts.Debug,
		packs:       make(map[string]Pack),
		models:      make(map[string]Pack),
		actions:     make(map[string]any),
		actionNames: make(map[any]string),
		calls:       xsync.NewMapOf[string, *xsync.Counter](),
	}
}

// Debug reports whether declaration problems are fatal
func (o *Observer) Debug() bool {
	return o.debug
}

// Verbosity returns the logging level
func (o *Observer) Verbosity() Verbosity {
	return o.verbosity
}

// Warn logs msg when warnings are enabled
func (o *Observer) Warn(action, msg string) {
	if o.verbosity >= LogWarnings {
		log.Warn().Str("action", action).Msg(msg)
	}
}

// RegisterPack registers p, its actions and its subpacks
func (o *Observer) RegisterPack(p Pack) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.frozen {
		return ErrFrozen
	}
	return o.populate(p)
}

func (o *Observer) populate(p Pack) error {
	name := TypeName(p)
	if _, ok := o.packs[name]; ok {
		return &DuplicatePackError{Name: name}
	}

	if mb, ok := p.(ModelBound); ok && mb.PrimaryForModel() && mb.ModelName() != "" {
		if existing, ok := o.models[mb.ModelName()]; ok {
			return &DuplicatePrimaryError{Model: mb.ModelName(), Existing: TypeName(existing)}
		}
		o.models[mb.ModelName()] = p
	}
	o.packs[name] = p

	if ra, ok := p.(ModelResolverAware); ok {
		ra.SetModelResolver(o.Get)
	}

	for _, action := range p.ObserverActions() {
		if action == nil || !reflect.TypeOf(action).Comparable() {
			return fmt.Errorf("pack %s: action %T must be a pointer", name, action)
		}
		actionName := ActionName(name, action)
		if existing, ok := o.actions[actionName]; ok && existing != action {
			return &DuplicateActionError{
				Name:     actionName,
				Action:   fmt.Sprintf("%T", action),
				Existing: fmt.Sprintf("%T", existing),
			}
		}
		o.actions[actionName] = action
		o.actionNames[action] = actionName
	}

	for _, sub := range p.ObserverSubpacks() {
		if err := o.populate(sub); err != nil {
			return err
		}
	}

	if o.verbosity >= LogMore {
		log.Debug().Str("pack", name).Int("actions", len(p.ObserverActions())).Msg("Pack registered")
	}
	return nil
}

// Subscribe adds a listener
func (o *Observer) Subscribe(s Subscription) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.frozen {
		return ErrFrozen
	}
	sub, err := compileSubscription(s, len(o.subscriptions))
	if err != nil {
		return err
	}
	o.subscriptions = append(o.subscriptions, sub)
	return nil
}

// Freeze sorts listeners by priority and resolves the listener list of
// every registered action. Calling it again is a no-op.
func (o *Observer) Freeze() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.frozen {
		return
	}

	sort.SliceStable(o.subscriptions, func(i, j int) bool {
		return o.subscriptions[i].Priority < o.subscriptions[j].Priority
	})

	for _, sub := range o.subscriptions {
		sub.hooks = hooksOf(sub.Factory())
	}

	o.listeners = make(map[string][]*subscription, len(o.actions))
	for name := range o.actions {
		for _, sub := range o.subscriptions {
			if sub.matches(name) {
				o.listeners[name] = append(o.listeners[name], sub)
			}
		}
	}
	o.frozen = true

	log.Debug().
		Int("packs", len(o.packs)).
		Int("actions", len(o.actions)).
		Int("listeners", len(o.subscriptions)).
		Msg("Observer frozen")
}

// Get returns the primary pack of model
func (o *Observer) Get(model string) Pack {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.models[model]
}

// PackByName returns a registered pack by its "package/Type" name
func (o *Observer) PackByName(name string) Pack {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.packs[name]
}

// NameOf returns the registered name of action
func (o *Observer) NameOf(action any) (string, bool) {
	if action == nil || !reflect.TypeOf(action).Comparable() {
		return "", false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	name, ok := o.actionNames[action]
	return name, ok
}

// Listeners returns the names of the listeners of an action in call order
func (o *Observer) Listeners(actionName string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	subs := o.listeners[actionName]
	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = s.Name
	}
	return names
}

// Stats returns the number of invocations per action name
func (o *Observer) Stats() map[string]int64 {
	stats := make(map[string]int64)
	o.calls.Range(func(name string, c *xsync.Counter) bool {
		stats[name] = c.Value()
		return true
	})
	return stats
}

// Body is the action itself as seen by Invoke
type Body func(call *Call) (any, error)

// Invoke runs body for action surrounded by the action's listeners
func (o *Observer) Invoke(ctx context.Context, action any, req Request, body Body) (any, error) {
	return o.InvokeWith(ctx, action, req, nil, body)
}

// InvokeWith is Invoke with a prepared action context
func (o *Observer) InvokeWith(ctx context.Context, action any, req Request, actionContext any, body Body) (any, error) {
	o.mu.RLock()
	if !o.frozen {
		o.mu.RUnlock()
		return nil, ErrNotFrozen
	}
	name, ok := "", false
	if action != nil && reflect.TypeOf(action).Comparable() {
		name, ok = o.actionNames[action]
	}
	listeners := o.listeners[name]
	o.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}

	counter, _ := o.calls.LoadOrCompute(name, func() *xsync.Counter { return xsync.NewCounter() })
	counter.Inc()

	call := &Call{
		Context:       ctx,
		Action:        action,
		Name:          name,
		Request:       req,
		ActionContext: actionContext,
		observer:      o,
		listeners:     listeners,
	}

	start := time.Now()
	defer func() {
		telemetry.ActionDurationSeconds.With(name).Observe(time.Since(start).Seconds())
	}()

	if o.verbosity >= LogCalls {
		log.Debug().Str("action", name).Int("listeners", len(listeners)).Msg("Action called")
	}

	for _, sub := range listeners {
		if !sub.has(hookBefore) {
			continue
		}
		bl, ok := sub.Factory().(BeforeListener)
		if !ok {
			continue
		}
		telemetry.ListenerCallsTotal.With("before").Inc()
		if res := bl.Before(call); res != nil {
			telemetry.ListenerShortCircuitsTotal.With("before").Inc()
			telemetry.ActionsTotal.With(name, "before").Inc()
			if o.verbosity >= LogMore {
				log.Debug().Str("action", name).Str("listener", sub.Name).Msg("Listener replaced action")
			}
			notifyReplaced(call, listeners, res)
			return res, nil
		}
	}

	result, err := o.run(call, body)
	if err != nil {
		for _, sub := range listeners {
			if !sub.has(hookCatch) {
				continue
			}
			cl, ok := sub.Factory().(CatchListener)
			if !ok {
				continue
			}
			telemetry.ListenerCallsTotal.With("catch").Inc()
			if res := cl.Catch(call, err); res != nil {
				telemetry.ListenerShortCircuitsTotal.With("catch").Inc()
				telemetry.ActionsTotal.With(name, "caught").Inc()
				if o.verbosity >= LogMore {
					log.Debug().Str("action", name).Str("listener", sub.Name).Err(err).Msg("Listener handled error")
				}
				return res, nil
			}
		}
		telemetry.ActionsTotal.With(name, "error").Inc()
		return nil, err
	}

	for _, sub := range listeners {
		if !sub.has(hookAfter) {
			continue
		}
		al, ok := sub.Factory().(AfterListener)
		if !ok {
			continue
		}
		telemetry.ListenerCallsTotal.With("after").Inc()
		if res := al.After(call, result); res != nil {
			result = res
			break
		}
	}
	telemetry.ActionsTotal.With(name, "success").Inc()
	return result, nil
}

func notifyReplaced(call *Call, listeners []*subscription, result any) {
	for _, sub := range listeners {
		if !sub.has(hookReplaced) {
			continue
		}
		if rl, ok := sub.Factory().(ReplacedListener); ok {
			telemetry.ListenerCallsTotal.With("replaced").Inc()
			rl.Replaced(call, result)
		}
	}
}

func (o *Observer) run(call *Call, body Body) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Action: call.Name, Value: r, Stack: debug.Stack()}
			log.Error().Str("action", call.Name).Interface("panic", r).Msg("Action panicked")
		}
	}()
	if body == nil {
		return nil, nil
	}
	return body(call)
}
