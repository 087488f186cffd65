package observer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listAction struct{}
type saveAction struct{}

type personPack struct {
	list     *listAction
	save     *saveAction
	subpacks []Pack
	resolver func(string) Pack
}

func newPersonPack() *personPack {
	return &personPack{list: &listAction{}, save: &saveAction{}}
}

func (p *personPack) ObserverActions() []any   { return []any{p.list, p.save} }
func (p *personPack) ObserverSubpacks() []Pack { return p.subpacks }
func (p *personPack) ModelName() string        { return "person" }
func (p *personPack) PrimaryForModel() bool    { return true }
func (p *personPack) SetModelResolver(resolve func(string) Pack) {
	p.resolver = resolve
}

type namedPack struct {
	name    string
	actions []any
}

func (p *namedPack) ObserverName() string     { return p.name }
func (p *namedPack) ObserverActions() []any   { return p.actions }
func (p *namedPack) ObserverSubpacks() []Pack { return nil }

func frozen(t *testing.T, subs ...Subscription) (*Observer, *personPack) {
	t.Helper()
	o := New(Options{Verbosity: LogMore})
	p := newPersonPack()
	require.NoError(t, o.RegisterPack(p))
	for _, s := range subs {
		require.NoError(t, o.Subscribe(s))
	}
	o.Freeze()
	return o, p
}

func hooks(h Hooks) func() any {
	return func() any {
		c := h
		return &c
	}
}

func TestNaming(t *testing.T) {
	p := newPersonPack()
	assert.Equal(t, "observer/personPack", TypeName(p))
	assert.Equal(t, "observer/personPack/listAction", ActionName(TypeName(p), p.list))
	assert.Equal(t, "custom", TypeName(&namedPack{name: "custom"}))
}

func TestRegisterPack(t *testing.T) {
	t.Run("resolver injected", func(t *testing.T) {
		o, p := frozen(t)
		require.NotNil(t, p.resolver)
		assert.Same(t, p, p.resolver("person"))
		assert.Same(t, p, o.Get("person"))
		assert.Nil(t, o.Get("unknown"))
		assert.Same(t, p, o.PackByName("observer/personPack"))

		name, ok := o.NameOf(p.save)
		require.True(t, ok)
		assert.Equal(t, "observer/personPack/saveAction", name)
	})

	t.Run("duplicate pack", func(t *testing.T) {
		o := New(Options{})
		require.NoError(t, o.RegisterPack(&namedPack{name: "a"}))
		err := o.RegisterPack(&namedPack{name: "a"})
		var dup *DuplicatePackError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "a", dup.Name)
	})

	t.Run("duplicate action name", func(t *testing.T) {
		o := New(Options{})
		err := o.RegisterPack(&namedPack{name: "a", actions: []any{&listAction{}, &listAction{}}})
		var dup *DuplicateActionError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "a/listAction", dup.Name)
	})

	t.Run("duplicate primary pack", func(t *testing.T) {
		p := newPersonPack()
		p.subpacks = []Pack{&primaryOnly{}}
		err := New(Options{}).RegisterPack(p)
		var dup *DuplicatePrimaryError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "person", dup.Model)
		assert.Equal(t, "observer/personPack", dup.Existing)
	})

	t.Run("subpack actions", func(t *testing.T) {
		o := New(Options{})
		sub := &namedPack{name: "sub", actions: []any{&saveAction{}}}
		p := newPersonPack()
		p.subpacks = []Pack{sub}
		require.NoError(t, o.RegisterPack(p))
		o.Freeze()
		name, ok := o.NameOf(sub.actions[0])
		require.True(t, ok)
		assert.Equal(t, "sub/saveAction", name)
	})

	t.Run("non pointer action", func(t *testing.T) {
		o := New(Options{})
		err := o.RegisterPack(&namedPack{name: "a", actions: []any{[]int{1}}})
		assert.Error(t, err)
	})
}

type primaryOnly struct{}

func (p *primaryOnly) ObserverActions() []any   { return nil }
func (p *primaryOnly) ObserverSubpacks() []Pack { return nil }
func (p *primaryOnly) ModelName() string        { return "person" }
func (p *primaryOnly) PrimaryForModel() bool    { return true }

func TestLifecycle(t *testing.T) {
	o := New(Options{})
	p := newPersonPack()
	require.NoError(t, o.RegisterPack(p))

	_, err := o.Invoke(context.Background(), p.list, Request{}, nil)
	assert.ErrorIs(t, err, ErrNotFrozen)

	o.Freeze()
	o.Freeze()
	assert.ErrorIs(t, o.RegisterPack(&namedPack{name: "late"}), ErrFrozen)
	assert.ErrorIs(t, o.Subscribe(Subscription{Factory: hooks(Hooks{})}), ErrFrozen)

	_, err = o.Invoke(context.Background(), &listAction{}, Request{}, nil)
	assert.ErrorIs(t, err, ErrUnknownAction)

	assert.ErrorIs(t, New(Options{}).Subscribe(Subscription{}), ErrNoFactory)
	assert.Error(t, New(Options{}).Subscribe(Subscription{Factory: hooks(Hooks{}), Listen: []string{"("}}))
}

func TestBeforeShortCircuit(t *testing.T) {
	var calls []string
	o, p := frozen(t,
		Subscription{Name: "l1", Factory: hooks(Hooks{OnBefore: func(*Call) any {
			calls = append(calls, "l1")
			return nil
		}})},
		Subscription{Name: "l2", Factory: hooks(Hooks{OnBefore: func(*Call) any {
			calls = append(calls, "l2")
			return "sentinel"
		}})},
		Subscription{Name: "l3", Factory: hooks(Hooks{
			OnBefore: func(*Call) any {
				calls = append(calls, "l3")
				return nil
			},
			OnAfter: func(*Call, any) any {
				calls = append(calls, "after")
				return nil
			},
		})},
	)

	res, err := o.Invoke(context.Background(), p.list, Request{}, func(*Call) (any, error) {
		calls = append(calls, "body")
		return "body", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "sentinel", res)
	assert.Equal(t, []string{"l1", "l2"}, calls)
}

func TestReplacedListenersSeeBeforeResult(t *testing.T) {
	var seen []any
	o, p := frozen(t,
		Subscription{Name: "watch", Priority: -1, Factory: hooks(Hooks{
			OnReplaced: func(_ *Call, r any) { seen = append(seen, r) },
			OnAfter: func(_ *Call, r any) any {
				seen = append(seen, "after")
				return nil
			},
		})},
		Subscription{Name: "deny", Factory: hooks(Hooks{OnBefore: func(*Call) any { return "denied" }})},
	)

	res, err := o.Invoke(context.Background(), p.list, Request{}, func(*Call) (any, error) {
		return "body", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "denied", res)
	assert.Equal(t, []any{"denied"}, seen)
}

type afterOnly struct{}

func (afterOnly) After(*Call, any) any { return nil }

func TestFactorySkippedForMissingHooks(t *testing.T) {
	made := 0
	o, p := frozen(t, Subscription{Factory: func() any {
		made++
		return afterOnly{}
	}})
	// once to learn the hooks
	assert.Equal(t, 1, made)

	_, err := o.Invoke(context.Background(), p.list, Request{}, func(call *Call) (any, error) {
		return call.Handle("query", 1), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, made)

	_, err = o.Invoke(context.Background(), p.list, Request{}, func(*Call) (any, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, made)
}

func TestAfterReplacesResult(t *testing.T) {
	var seen []any
	o, p := frozen(t,
		Subscription{Factory: hooks(Hooks{OnAfter: func(_ *Call, r any) any {
			seen = append(seen, r)
			return nil
		}})},
		Subscription{Factory: hooks(Hooks{OnAfter: func(_ *Call, r any) any {
			seen = append(seen, r)
			return "replaced"
		}})},
		Subscription{Factory: hooks(Hooks{OnAfter: func(_ *Call, r any) any {
			seen = append(seen, r)
			return "ignored"
		}})},
	)

	res, err := o.Invoke(context.Background(), p.list, Request{}, func(*Call) (any, error) {
		return "body", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "replaced", res)
	assert.Equal(t, []any{"body", "body"}, seen)
}

func TestCatch(t *testing.T) {
	boom := errors.New("boom")

	t.Run("error handled", func(t *testing.T) {
		afterCalled := false
		o, p := frozen(t,
			Subscription{Factory: hooks(Hooks{OnCatch: func(_ *Call, err error) any { return nil }})},
			Subscription{Factory: hooks(Hooks{
				OnCatch: func(_ *Call, err error) any {
					if errors.Is(err, boom) {
						return "handled"
					}
					return nil
				},
				OnAfter: func(*Call, any) any {
					afterCalled = true
					return nil
				},
			})},
		)
		res, err := o.Invoke(context.Background(), p.save, Request{}, func(*Call) (any, error) {
			return nil, boom
		})
		require.NoError(t, err)
		assert.Equal(t, "handled", res)
		assert.False(t, afterCalled)
	})

	t.Run("error unhandled", func(t *testing.T) {
		o, p := frozen(t)
		_, err := o.Invoke(context.Background(), p.save, Request{}, func(*Call) (any, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("panic", func(t *testing.T) {
		var caught error
		o, p := frozen(t, Subscription{Factory: hooks(Hooks{OnCatch: func(_ *Call, err error) any {
			caught = err
			return nil
		}})})
		_, err := o.Invoke(context.Background(), p.save, Request{}, func(*Call) (any, error) {
			panic(boom)
		})
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "observer/personPack/saveAction", pe.Action)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, err, caught)
	})
}

func TestPriorityAndPatterns(t *testing.T) {
	var order []string
	record := func(name string) func() any {
		return hooks(Hooks{OnBefore: func(*Call) any {
			order = append(order, name)
			return nil
		}})
	}
	o, p := frozen(t,
		Subscription{Name: "late", Priority: 10, Factory: record("late")},
		Subscription{Name: "early", Priority: -5, Factory: record("early")},
		Subscription{Name: "default", Factory: record("default")},
		Subscription{Name: "saves", Listen: []string{`observer/.*/save`}, Factory: record("saves")},
		Subscription{Name: "lists", ListenGlob: []string{"observer/*/list*"}, Factory: record("lists")},
		Subscription{Name: "anchored", Listen: []string{`personPack`}, Factory: record("anchored")},
	)

	_, err := o.Invoke(context.Background(), p.list, Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "default", "lists", "late"}, order)
	assert.Equal(t, []string{"early", "default", "lists", "late"}, o.Listeners("observer/personPack/listAction"))

	order = nil
	_, err = o.Invoke(context.Background(), p.save, Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "default", "saves", "late"}, order)

	assert.Equal(t, map[string]int64{
		"observer/personPack/listAction": 1,
		"observer/personPack/saveAction": 1,
	}, o.Stats())
}

type counterListener struct {
	calls int
}

func (c *counterListener) Handlers() map[string]Handler {
	return map[string]Handler{
		"query": func(call *Call, arg any) any {
			c.calls++
			return append(arg.([]int), c.calls)
		},
	}
}

func TestHandlePipeline(t *testing.T) {
	o, p := frozen(t,
		Subscription{Factory: func() any { return &counterListener{} }},
		Subscription{Factory: func() any { return &counterListener{} }},
		Subscription{Factory: hooks(Hooks{Verbs: map[string]Handler{
			"other": func(*Call, any) any { return "other" },
		}})},
	)

	res, err := o.Invoke(context.Background(), p.list, Request{Params: map[string]any{"x": 1}}, func(call *Call) (any, error) {
		v, ok := call.Request.Param("x")
		require.True(t, ok)
		assert.Equal(t, 1, v)
		return HandleAs(call, "query", []int{0})
	})
	require.NoError(t, err)
	// every listener is a fresh instance so each sees calls == 1
	assert.Equal(t, []int{0, 1, 1}, res)

	_, err = o.Invoke(context.Background(), p.list, Request{}, func(call *Call) (any, error) {
		return HandleAs(call, "other", 5)
	})
	assert.Error(t, err)
}

func TestParseVerbosity(t *testing.T) {
	for in, want := range map[string]Verbosity{"none": LogNone, "": LogWarnings, "warnings": LogWarnings, "calls": LogCalls, "more": LogMore} {
		got, err := ParseVerbosity(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseVerbosity("loud")
	assert.Error(t, err)
}

func TestHandleAsError(t *testing.T) {
	stop := errors.New("stop")
	o, p := frozen(t, Subscription{Factory: hooks(Hooks{Verbs: map[string]Handler{
		"save_object": func(*Call, any) any { return stop },
	}})})

	_, err := o.Invoke(context.Background(), p.save, Request{}, func(call *Call) (any, error) {
		return HandleAs(call, "save_object", map[string]any{"id": 1})
	})
	assert.ErrorIs(t, err, stop)
}
