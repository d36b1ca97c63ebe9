package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc decides at fire time whether a target may be taken
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder collects permitted transitions and stamps out machines
type StateMachineBuilder interface {
	Configure(state State) StateConfiguration
	Build(initialState State) StateMachine
}

// StateConfiguration adds outgoing transitions to one state
type StateConfiguration interface {
	Permit(trigger Trigger, toState State) StateConfiguration
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type edge struct {
	from State
	on   Trigger
}

type target struct {
	to    State
	guard GuardFunc
}

// table maps (state, trigger) to candidate targets in registration order
type table map[edge][]target

type builder struct {
	edges table
	rules map[State]*stateRules
}

type stateRules struct {
	b    *builder
	from State
}

type machine struct {
	current State
	edges   table
}

// NewBuilder returns an empty builder
func NewBuilder() StateMachineBuilder {
	return &builder{
		edges: make(table),
		rules: make(map[State]*stateRules),
	}
}

func (b *builder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("workflow: configure unknown state %q", state))
	}
	r, ok := b.rules[state]
	if !ok {
		r = &stateRules{b: b, from: state}
		b.rules[state] = r
	}
	return r
}

// Build snapshots the table so later Configure calls do not leak into
// machines already handed out.
func (b *builder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("workflow: build from unknown state %q", initialState))
	}
	snapshot := make(table, len(b.edges))
	for e, ts := range b.edges {
		snapshot[e] = append([]target(nil), ts...)
	}
	return &machine{current: initialState, edges: snapshot}
}

func (r *stateRules) Permit(trigger Trigger, toState State) StateConfiguration {
	return r.PermitIf(trigger, toState, nil)
}

func (r *stateRules) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("workflow: permit %s into unknown state %q", trigger, toState))
	}
	e := edge{from: r.from, on: trigger}
	r.b.edges[e] = append(r.b.edges[e], target{to: toState, guard: guard})
	return r
}

func (m *machine) State() State {
	return m.current
}

// CanFire ignores guards; they need a context to evaluate.
func (m *machine) CanFire(trigger Trigger) bool {
	return len(m.edges[edge{from: m.current, on: trigger}]) > 0
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	targets := m.edges[edge{from: m.current, on: trigger}]
	if len(targets) == 0 {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, m.current)
	}
	for _, t := range targets {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.to
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.current)
}

// PermittedTriggers lists the triggers leaving the current state, sorted
func (m *machine) PermittedTriggers() []Trigger {
	out := []Trigger{}
	for e := range m.edges {
		if e.from == m.current {
			out = append(out, e.on)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
