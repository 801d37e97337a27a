package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"xpbridge/internal/clock"
	"xpbridge/internal/types"
)

// VariableSpec declares one simulated variable.
type VariableSpec struct {
	Name     string
	Type     types.TypeID
	Writable bool
	Value    types.TypedValue
}

// ActionSpec declares one simulated action.
type ActionSpec struct {
	Name string
}

// ActionState is a snapshot of a simulated action's history.
type ActionState struct {
	Active    bool
	Begins    int
	Ends      int
	Fires     int
	LastBegin time.Time
	LastEnd   time.Time
}

type simVariable struct {
	spec  VariableSpec
	value types.TypedValue
}

type simAction struct {
	name  string
	state ActionState
}

// Sim is an in-process Host. It owns a tick driver (Run) that invokes the
// registered callback the way a simulator's frame loop would.
type Sim struct {
	log   *zap.Logger
	clock clock.Clock

	mu        sync.Mutex
	variables []*simVariable
	varIndex  map[string]VariableID
	actions   []*simAction
	actIndex  map[string]ActionID

	tick         TickFunc
	interval     time.Duration
	registration uint64
	generation   uint64
}

var _ Host = (*Sim)(nil)

// NewSim builds a simulated host from the given tables.
func NewSim(log *zap.Logger, clk clock.Clock, vars []VariableSpec, acts []ActionSpec) *Sim {
	s := &Sim{
		log:   log.Named("sim"),
		clock: clk,
	}
	s.load(vars, acts)
	return s
}

func (s *Sim) load(vars []VariableSpec, acts []ActionSpec) {
	s.variables = make([]*simVariable, 0, len(vars))
	s.varIndex = make(map[string]VariableID, len(vars))
	for _, spec := range vars {
		s.variables = append(s.variables, &simVariable{spec: spec, value: spec.Value})
		s.varIndex[spec.Name] = VariableID(len(s.variables))
	}

	s.actions = make([]*simAction, 0, len(acts))
	s.actIndex = make(map[string]ActionID, len(acts))
	for _, spec := range acts {
		s.actions = append(s.actions, &simAction{name: spec.Name})
		s.actIndex[spec.Name] = ActionID(len(s.actions))
	}
}

// Reload swaps the whole resource universe. Handles resolved before the
// reload no longer refer to the same resources.
func (s *Sim) Reload(vars []VariableSpec, acts []ActionSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(vars, acts)
	s.generation++
	s.log.Info("resources reloaded",
		zap.Int("variables", len(vars)),
		zap.Int("actions", len(acts)),
		zap.Uint64("generation", s.generation))
}

func (s *Sim) RegisterTick(fn TickFunc, interval time.Duration) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick = fn
	s.interval = interval
	// A second registration replaces the first; only the owner of the
	// current one may remove it.
	s.registration++
	reg := s.registration
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.registration == reg {
			s.tick = nil
		}
	}
}

// TickOnce invokes the registered callback synchronously and returns the
// interval it asked for. It reports false if nothing is registered.
func (s *Sim) TickOnce() (time.Duration, bool) {
	s.mu.Lock()
	fn, interval := s.tick, s.interval
	s.mu.Unlock()

	if fn == nil {
		return 0, false
	}
	next := fn()
	if next <= 0 {
		next = interval
	}
	return next, true
}

// Run drives the tick callback until ctx ends.
func (s *Sim) Run(ctx context.Context, idle time.Duration) error {
	s.log.Info("tick driver started")
	defer s.log.Info("tick driver stopped")

	wait := idle
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
		}

		next, ok := s.TickOnce()
		if !ok || next <= 0 {
			next = idle
		}
		wait = next
	}
}

func (s *Sim) FindVariable(name string) (VariableID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.varIndex[name]
	return id, ok
}

func (s *Sim) FindAction(name string) (ActionID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.actIndex[name]
	return id, ok
}

func (s *Sim) variable(v VariableID) *simVariable {
	if v == 0 || int(v) > len(s.variables) {
		return nil
	}
	return s.variables[v-1]
}

func (s *Sim) action(a ActionID) *simAction {
	if a == 0 || int(a) > len(s.actions) {
		return nil
	}
	return s.actions[a-1]
}

func (s *Sim) VariableType(v VariableID) types.TypeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := s.variable(v)
	if sv == nil {
		return types.TypeUnknown
	}
	return sv.spec.Type
}

func (s *Sim) ReadVariable(v VariableID) (types.TypedValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := s.variable(v)
	if sv == nil {
		return types.TypedValue{}, ErrNoSuchVariable
	}
	if !sv.value.Valid() {
		return types.TypedValue{}, fmt.Errorf("%w: %s has no value", ErrTypeMismatch, sv.spec.Name)
	}
	return sv.value.WithType(sv.spec.Type), nil
}

func (s *Sim) CanWrite(v VariableID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := s.variable(v)
	return sv != nil && sv.spec.Writable
}

func (s *Sim) WriteVariable(v VariableID, val types.TypedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := s.variable(v)
	if sv == nil {
		return ErrNoSuchVariable
	}
	if !sv.spec.Writable {
		return fmt.Errorf("%w: %s", ErrNotWritable, sv.spec.Name)
	}
	if !sv.spec.Type.Has(val.Kind()) {
		return fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, sv.spec.Name, sv.spec.Type, val.Kind())
	}
	sv.value = val
	return nil
}

func (s *Sim) BeginAction(a ActionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sa := s.action(a); sa != nil {
		sa.state.Active = true
		sa.state.Begins++
		sa.state.LastBegin = s.clock.Now()
	}
}

func (s *Sim) EndAction(a ActionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sa := s.action(a); sa != nil {
		sa.state.Active = false
		sa.state.Ends++
		sa.state.LastEnd = s.clock.Now()
	}
}

func (s *Sim) FireAction(a ActionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sa := s.action(a); sa != nil {
		sa.state.Fires++
	}
}

// Action returns a snapshot of the named action.
func (s *Sim) Action(name string) (ActionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.actIndex[name]
	if !ok {
		return ActionState{}, false
	}
	return s.actions[id-1].state, true
}

// Value returns the current value of the named variable.
func (s *Sim) Value(name string) (types.TypedValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.varIndex[name]
	if !ok {
		return types.TypedValue{}, false
	}
	return s.variables[id-1].value, true
}
