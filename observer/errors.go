package observer

import (
	"errors"
	"fmt"
)

var (
	// ErrFrozen is returned by registration calls after Freeze
	ErrFrozen = errors.New("observer is frozen")
	// ErrNotFrozen is returned by Invoke before Freeze
	ErrNotFrozen = errors.New("observer is not frozen")
	// ErrUnknownAction is returned by Invoke for actions of unregistered packs
	ErrUnknownAction = errors.New("action is not registered")
	// ErrNoFactory rejects subscriptions without a listener factory
	ErrNoFactory = errors.New("subscription has no listener factory")
)

// DuplicatePackError is returned when a pack name is registered twice
type DuplicatePackError struct {
	Name string
}

func (e *DuplicatePackError) Error() string {
	return fmt.Sprintf("pack reregistration blocked: %s", e.Name)
}

// DuplicateActionError is returned when two actions resolve to the same name
type DuplicateActionError struct {
	Name     string
	Action   string // type of the rejected action
	Existing string // type of the action already holding the name
}

func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("name %q can not be registered for action %s, it is registered for %s", e.Name, e.Action, e.Existing)
}

// DuplicatePrimaryError is returned when a model gets a second primary pack
type DuplicatePrimaryError struct {
	Model    string
	Existing string // name of the pack already registered as primary
}

func (e *DuplicatePrimaryError) Error() string {
	return fmt.Sprintf("model %s already has primary pack %s", e.Model, e.Existing)
}

// PanicError wraps a panic raised by an action body that no catch
// listener handled.
type PanicError struct {
	Action string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in action %s: %v", e.Action, e.Value)
}

// Unwrap returns the panic value when it was an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
