package scpi

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when an instrument does not answer within the
// configured deadline, or when an OPC poll expires
var ErrTimeout = errors.New("instrument timeout")

// CommandError wraps a failed SCPI command or query together with the
// command text, so upper layers can log the exact command that failed
type CommandError struct {
	Cmd string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("scpi %q: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
