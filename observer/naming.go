package observer

import (
	"path"
	"reflect"
)

// Named overrides the reflected name of a pack or action
type Named interface {
	ObserverName() string
}

// TypeName returns "package/Type" for v, dereferencing pointers
func TypeName(v any) string {
	if n, ok := v.(Named); ok {
		if name := n.ObserverName(); name != "" {
			return name
		}
	}
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "nil"
	}
	return path.Base(t.PkgPath()) + "/" + t.Name()
}

// ActionName returns "package/PackType/ActionType", the name listeners
// match against. A Named action keeps its own name.
func ActionName(packName string, action any) string {
	if n, ok := action.(Named); ok {
		if name := n.ObserverName(); name != "" {
			return name
		}
	}
	t := reflect.TypeOf(action)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return packName + "/nil"
	}
	return packName + "/" + t.Name()
}
