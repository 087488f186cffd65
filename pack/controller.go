package pack

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/maxpert/objectpack/observer"
	"github.com/rs/zerolog/log"
)

// ErrForbidden is returned when the permission check rejects a call
var ErrForbidden = errors.New("permission denied")

// Permit decides whether a request may run an action guarded by code
type Permit func(ctx context.Context, req observer.Request, code string) bool

// Controller routes URLs to pack actions and runs them through the observer
type Controller struct {
	obs    *observer.Observer
	routes map[string]Action
	packs  []Pack
	permit Permit
}

// NewController creates a controller dispatching through obs
func NewController(obs *observer.Observer) *Controller {
	return &Controller{obs: obs, routes: make(map[string]Action)}
}

// Observer returns the underlying registry
func (c *Controller) Observer() *observer.Observer {
	return c.obs
}

// SetPermit installs the permission check for guarded actions
func (c *Controller) SetPermit(p Permit) {
	c.permit = p
}

// Register adds packs to the observer and maps their action URLs
func (c *Controller) Register(packs ...Pack) error {
	for _, p := range packs {
		if err := c.obs.RegisterPack(p); err != nil {
			return err
		}
		c.packs = append(c.packs, p)
		if err := c.route("", p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) route(prefix string, p Pack) error {
	base := prefix + p.URL()
	for _, a := range p.Actions() {
		url := base + ActionURL(a)
		if existing, ok := c.routes[url]; ok && existing != a {
			return fmt.Errorf("url %s is bound to %T and %T", url, existing, a)
		}
		c.routes[url] = a
	}
	for _, sub := range p.Subpacks() {
		if err := c.route(base, sub); err != nil {
			return err
		}
	}
	return nil
}

// Freeze ends registration
func (c *Controller) Freeze() {
	c.obs.Freeze()
	log.Info().Int("routes", len(c.routes)).Msg("Action routes ready")
}

// Packs returns the top level packs in registration order
func (c *Controller) Packs() []Pack {
	return c.packs
}

// Routes returns every action URL in sorted order
func (c *Controller) Routes() []string {
	urls := make([]string, 0, len(c.routes))
	for u := range c.routes {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Lookup finds the action bound to url
func (c *Controller) Lookup(url string) (Action, bool) {
	a, ok := c.routes[url]
	return a, ok
}

// URLOf returns the full URL of a registered action
func (c *Controller) URLOf(a Action) (string, bool) {
	for u, candidate := range c.routes {
		if candidate == a {
			return u, true
		}
	}
	return "", false
}

// Dispatch runs the action bound to url
func (c *Controller) Dispatch(ctx context.Context, url string, req observer.Request) (Result, error) {
	a, ok := c.Lookup(url)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", observer.ErrUnknownAction, url)
	}
	return c.Run(ctx, a, req)
}

// Run builds the action context, checks permissions and invokes the
// action with its listeners. Application-logic errors become failure
// results; anything else is returned as an error.
func (c *Controller) Run(ctx context.Context, a Action, req observer.Request) (Result, error) {
	name, _ := c.obs.NameOf(a)

	if code := a.PermCode(); code != "" && c.permit != nil && !c.permit(ctx, req, code) {
		return Result{}, fmt.Errorf("%w: %s", ErrForbidden, code)
	}

	var decl Declaration
	if a.Parent() != nil {
		decl = a.Parent().DeclareContext(a)
	}
	actx, err := BuildContext(decl, req.Params, c.obs.Debug(), func(msg string) {
		c.obs.Warn(name, msg)
	})
	if err != nil {
		return Result{}, err
	}

	res, err := c.obs.InvokeWith(ctx, a, req, actx, func(call *observer.Call) (any, error) {
		r, err := a.Run(call)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		if msg, ok := FailureMessage(err); ok {
			log.Debug().Str("action", name).Err(err).Msg("Action failed")
			return Failure(msg), nil
		}
		return Result{}, err
	}

	switch r := res.(type) {
	case Result:
		return r, nil
	case *Result:
		return *r, nil
	case nil:
		return OperationResult(""), nil
	}
	return JSONResult(res), nil
}
