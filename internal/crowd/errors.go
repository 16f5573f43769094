package crowd

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition marks inputs that make a run impossible. No output is
	// written for a run failing with it.
	ErrPrecondition = errors.New("precondition violated")
	// ErrNoGateways means no transport mode has a usable gateway.
	ErrNoGateways = fmt.Errorf("%w: no usable gateways", ErrPrecondition)
	// ErrEmptyMode means a mode was selected that has no gateways.
	ErrEmptyMode = fmt.Errorf("%w: selected mode has no gateways", ErrPrecondition)
	// ErrInvalidRequest is returned for malformed run requests.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrExhausted is matched by every *ExhaustedError.
	ErrExhausted = errors.New("retry budget exhausted")
)

// ExhaustedError reports a bounded search that ran out of attempts.
type ExhaustedError struct {
	Stage    string
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts", e.Stage, e.Attempts)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }
