package pack

import (
	"reflect"
	"strings"

	"github.com/maxpert/objectpack/observer"
)

// Action is one endpoint of a pack
type Action interface {
	Run(call *observer.Call) (Result, error)
	Parent() Pack
	PermCode() string
	bind(p Pack)
}

// BaseAction carries the owning pack and the permission code. Embed it in
// every action.
type BaseAction struct {
	parent Pack
	// Perm is the sub-permission of the pack guarding this action
	Perm string
}

// Parent returns the owning pack
func (a *BaseAction) Parent() Pack {
	return a.parent
}

// PermCode returns "<pack name>/<perm>", or "" when the action is not
// guarded.
func (a *BaseAction) PermCode() string {
	if a.Perm == "" || a.parent == nil {
		return ""
	}
	return a.parent.Name() + "/" + a.Perm
}

func (a *BaseAction) bind(p Pack) {
	a.parent = p
}

// ActionURL returns the path of an action inside its pack: a slash and
// the lowercased type name unless the action defines URL().
func ActionURL(a Action) string {
	if u, ok := a.(interface{ URL() string }); ok {
		return u.URL()
	}
	t := reflect.TypeOf(a)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return "/" + strings.ToLower(t.Name())
}

// ContextOf returns the action context built for call
func ContextOf(call *observer.Call) *Context {
	if c, ok := call.ActionContext.(*Context); ok {
		return c
	}
	return NewContext(nil)
}

// Pack groups actions under a name and a URL prefix
type Pack interface {
	observer.Pack
	Name() string
	URL() string
	Actions() []Action
	Subpacks() []Pack
	DeclareContext(a Action) Declaration
}

// BasePack implements Pack. Packs embedding it call Init with themselves
// so their actions resolve the outer pack as parent.
type BasePack struct {
	name     string
	url      string
	self     Pack
	actions  []Action
	subpacks []Pack
}

// Init names the pack and binds actions to self
func (p *BasePack) Init(name string, self Pack) {
	p.name = name
	p.self = self
	p.url = "/" + strings.ToLower(name[strings.LastIndex(name, "/")+1:])
	for _, a := range p.actions {
		a.bind(self)
	}
}

// Name returns "package/Pack"
func (p *BasePack) Name() string {
	return p.name
}

// ObserverName implements observer.Named
func (p *BasePack) ObserverName() string {
	return p.name
}

// URL returns the pack prefix
func (p *BasePack) URL() string {
	return p.url
}

// SetURL overrides the pack prefix
func (p *BasePack) SetURL(url string) {
	p.url = url
}

// Actions returns the registered actions
func (p *BasePack) Actions() []Action {
	return p.actions
}

// Subpacks returns nested packs
func (p *BasePack) Subpacks() []Pack {
	return p.subpacks
}

// AddAction registers actions with the pack
func (p *BasePack) AddAction(actions ...Action) {
	for _, a := range actions {
		if a == nil {
			continue
		}
		a.bind(p.self)
		p.actions = append(p.actions, a)
	}
}

// AddSubpack nests packs under this one
func (p *BasePack) AddSubpack(packs ...Pack) {
	p.subpacks = append(p.subpacks, packs...)
}

// ReplaceAction swaps old for replacement. A nil old only adds, a nil
// replacement only removes.
func (p *BasePack) ReplaceAction(old, replacement Action) {
	if old != nil {
		for i, a := range p.actions {
			if a == old {
				p.actions = append(p.actions[:i:i], p.actions[i+1:]...)
				break
			}
		}
	}
	if replacement != nil {
		p.AddAction(replacement)
	}
}

// DeclareContext returns no parameters
func (p *BasePack) DeclareContext(Action) Declaration {
	return Declaration{}
}

// ObserverActions implements observer.Pack
func (p *BasePack) ObserverActions() []any {
	out := make([]any, len(p.actions))
	for i, a := range p.actions {
		out[i] = a
	}
	return out
}

// ObserverSubpacks implements observer.Pack
func (p *BasePack) ObserverSubpacks() []observer.Pack {
	out := make([]observer.Pack, len(p.subpacks))
	for i, s := range p.subpacks {
		out[i] = s
	}
	return out
}
