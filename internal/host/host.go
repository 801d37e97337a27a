// Package host defines the capability the bridge consumes from the host
// application, and Sim, an in-process host used by the serve command and by
// tests.
//
// Every method of Host except RegisterTick must only be called from inside
// the registered tick callback.
package host

import (
	"errors"
	"time"

	"xpbridge/internal/types"
)

var (
	ErrNoSuchVariable = errors.New("no such variable")
	ErrNotWritable    = errors.New("variable not writable")
	ErrTypeMismatch   = errors.New("type mismatch")
)

// VariableID is an opaque handle to a host variable. Zero is never valid.
type VariableID uint64

// ActionID is an opaque handle to a host action. Zero is never valid.
type ActionID uint64

// TickFunc is invoked by the host on its execution context. It returns the
// interval until it wants to be called again; a non-positive value asks
// for the interval it was registered with.
type TickFunc func() time.Duration

// TickRegistrar is the host's periodic callback facility.
type TickRegistrar interface {
	// RegisterTick installs fn, asking for the given interval. The returned
	// function removes the registration.
	RegisterTick(fn TickFunc, interval time.Duration) (unregister func())
}

// Host is the capability the dispatcher reads and mutates state through.
type Host interface {
	TickRegistrar

	FindVariable(name string) (VariableID, bool)
	FindAction(name string) (ActionID, bool)

	// VariableType reports the full type mask of a variable.
	VariableType(v VariableID) types.TypeID
	ReadVariable(v VariableID) (types.TypedValue, error)
	CanWrite(v VariableID) bool
	WriteVariable(v VariableID, val types.TypedValue) error

	BeginAction(a ActionID)
	EndAction(a ActionID)
	FireAction(a ActionID)
}
