package providers

import (
	"fmt"
	"sync"
)

// ValueFunc computes a parameter value. For defaults current is nil; for
// transforms it is the resolved value. Functions must be pure: the same
// inputs always yield the same output and nothing is mutated.
type ValueFunc func(req *UnifiedRequest, current any) (any, error)

var (
	funcsMu sync.RWMutex
	funcs   = map[string]ValueFunc{}
)

// RegisterFunc adds a named function to the process-wide table. It is meant
// to be called from init and panics on an empty or duplicate name.
func RegisterFunc(name string, fn ValueFunc) {
	if name == "" || fn == nil {
		panic("providers: RegisterFunc requires a name and a function")
	}

	funcsMu.Lock()
	defer funcsMu.Unlock()

	if _, exists := funcs[name]; exists {
		panic(fmt.Sprintf("providers: function %q already registered", name))
	}
	funcs[name] = fn
}

// LookupFunc returns the function registered under name.
func LookupFunc(name string) (ValueFunc, bool) {
	funcsMu.RLock()
	defer funcsMu.RUnlock()
	fn, ok := funcs[name]
	return fn, ok
}

// Value is either a literal or a reference to a named ValueFunc.
// The zero Value is unset.
type Value struct {
	literal any
	fn      string
	set     bool
}

// Literal returns a Value holding v.
func Literal(v any) Value {
	return Value{literal: v, set: true}
}

// Func returns a Value referring to the function registered under name.
// The name is resolved at use, so the function may be registered later
// during init.
func Func(name string) Value {
	return Value{fn: name, set: true}
}

// IsSet reports whether the Value holds a literal or a function reference.
func (v Value) IsSet() bool { return v.set }

// FuncName returns the referenced function name, or "" for literals.
func (v Value) FuncName() string { return v.fn }

// Resolve evaluates the value for req. Literals are deep-copied so callers
// cannot mutate shared configuration.
func (v Value) Resolve(req *UnifiedRequest, current any) (any, error) {
	if !v.set {
		return current, nil
	}
	if v.fn == "" {
		return deepCopy(v.literal), nil
	}

	fn, ok := LookupFunc(v.fn)
	if !ok {
		return nil, fmt.Errorf("value function %q is not registered", v.fn)
	}
	return fn(req, current)
}
