package igauth

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// FlowState is a step of the OAuth connect flow.
type FlowState string

const (
	FlowIdle             FlowState = "idle"
	FlowStateIssued      FlowState = "state_issued"
	FlowCallbackReceived FlowState = "callback_received"
	FlowCodeExchanged    FlowState = "code_exchanged"
	FlowUpgraded         FlowState = "upgraded"
	FlowProfileFetched   FlowState = "profile_fetched"
	FlowPersisted        FlowState = "persisted"
	FlowDone             FlowState = "done"
	FlowError            FlowState = "error"
)

// ErrInvalidTransition is returned when the flow attempts an undefined step.
var ErrInvalidTransition = goerrors.New("invalid flow state transition", goerrors.CategoryInternal).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeInternal)

// FlowTransition describes one step taken by the flow.
type FlowTransition struct {
	Provider string
	From     FlowState
	To       FlowState
	Err      error
}

// TransitionHook observes flow transitions. Hooks cannot veto a transition.
type TransitionHook func(ctx context.Context, t FlowTransition)

var flowTransitions = map[FlowState]map[FlowState]struct{}{
	FlowIdle: {
		FlowStateIssued: {},
	},
	FlowStateIssued: {
		FlowCallbackReceived: {},
	},
	FlowCallbackReceived: {
		FlowCodeExchanged: {},
	},
	FlowCodeExchanged: {
		FlowUpgraded:       {},
		FlowProfileFetched: {},
		FlowPersisted:      {},
	},
	FlowUpgraded: {
		FlowProfileFetched: {},
		FlowPersisted:      {},
	},
	FlowProfileFetched: {
		FlowPersisted: {},
	},
	FlowPersisted: {
		FlowDone: {},
	},
}

// CanTransition reports whether the flow may move from one state to another.
// Any non terminal state may move to FlowError.
func CanTransition(from, to FlowState) bool {
	if to == FlowError {
		return from != FlowDone && from != FlowError
	}
	if allowed, ok := flowTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

type flowMachine struct {
	provider string
	current  FlowState
	history  []FlowState
	hooks    []TransitionHook
}

func newFlowMachine(provider string, start FlowState, hooks []TransitionHook) *flowMachine {
	return &flowMachine{
		provider: provider,
		current:  start,
		history:  []FlowState{start},
		hooks:    hooks,
	}
}

func (m *flowMachine) to(ctx context.Context, next FlowState) error {
	return m.transition(ctx, next, nil)
}

func (m *flowMachine) fail(ctx context.Context, cause error) {
	_ = m.transition(ctx, FlowError, cause)
}

func (m *flowMachine) transition(ctx context.Context, next FlowState, cause error) error {
	if !CanTransition(m.current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, next)
	}

	t := FlowTransition{Provider: m.provider, From: m.current, To: next, Err: cause}
	m.current = next
	m.history = append(m.history, next)

	for _, hook := range m.hooks {
		if hook != nil {
			hook(ctx, t)
		}
	}
	return nil
}

func (m *flowMachine) states() []FlowState {
	return append([]FlowState(nil), m.history...)
}
