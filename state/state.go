package state

import (
	"errors"
	"fmt"
	"sync"
)

// Phase is a named state of the turn machine.
type Phase string

const (
	Idle              Phase = "idle"
	WaitingForCapture Phase = "waiting_for_capture"
	TurnActive        Phase = "turn_active"
	WildCardMode      Phase = "wild_card_mode"
	AwaitingOpponent  Phase = "awaiting_opponent"
	GameOver          Phase = "game_over"
)

var (
	// ErrTransitionNotAllowed is returned when a registered transition's condition fails.
	ErrTransitionNotAllowed = errors.New("state transition not allowed")
	// ErrUnknownTransition is returned for a transition that was never registered.
	ErrUnknownTransition = errors.New("unknown state transition")
)

// Machine is a strict state machine: only registered transitions may happen.
// Enter and exit hooks run after the lock is released, so they may read the machine.
type Machine struct {
	current     Phase
	transitions map[Phase]map[Phase]func() bool // from -> to -> condition
	onEnter     map[Phase]func(from Phase)
	onExit      map[Phase]func(to Phase)
	mutex       sync.RWMutex
}

func NewMachine(initial Phase) *Machine {
	return &Machine{
		current:     initial,
		transitions: make(map[Phase]map[Phase]func() bool),
		onEnter:     make(map[Phase]func(Phase)),
		onExit:      make(map[Phase]func(Phase)),
	}
}

// AddTransition registers from -> to. A nil condition always passes.
func (m *Machine) AddTransition(from, to Phase, condition func() bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[Phase]func() bool)
	}
	m.transitions[from][to] = condition
}

func (m *Machine) OnEnter(p Phase, fn func(from Phase)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onEnter[p] = fn
}

func (m *Machine) OnExit(p Phase, fn func(to Phase)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onExit[p] = fn
}

// Can reports whether ChangeState(to) would succeed right now.
func (m *Machine) Can(to Phase) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.check(to) == nil
}

func (m *Machine) check(to Phase) error {
	conditions, exists := m.transitions[m.current]
	if !exists {
		return fmt.Errorf("%w: %s -> %s", ErrUnknownTransition, m.current, to)
	}
	condition, exists := conditions[to]
	if !exists {
		return fmt.Errorf("%w: %s -> %s", ErrUnknownTransition, m.current, to)
	}
	if condition != nil && !condition() {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, m.current, to)
	}
	return nil
}

// ChangeState moves to the given phase, running the exit hook of the old phase
// and the enter hook of the new one.
func (m *Machine) ChangeState(to Phase) error {
	m.mutex.Lock()
	if err := m.check(to); err != nil {
		m.mutex.Unlock()
		return err
	}
	from := m.current
	m.current = to
	exit, enter := m.onExit[from], m.onEnter[to]
	m.mutex.Unlock()

	if exit != nil {
		exit(to)
	}
	if enter != nil {
		enter(from)
	}
	return nil
}

func (m *Machine) Current() Phase {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}
