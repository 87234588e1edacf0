// Package fsm holds helpers around github.com/looplab/fsm.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent adapts a callback that returns an error to fsm.Callback. The
// error is stored on the event so that FSM.Event returns it.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// EnterState returns the callback key run when state is entered.
func EnterState(state string) string {
	return "enter_" + state
}

// BeforeEvent returns the callback key run before event fires.
func BeforeEvent(event string) string {
	return "before_" + event
}
