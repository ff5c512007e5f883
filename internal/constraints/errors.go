// Package constraints classifies APIs into roles from their effect contracts
// and resolves call slots against a live pool of variables.
package constraints

import (
	"errors"
	"fmt"
)

// ErrUnsatisfiable means no value exists for a slot under the current pool.
// It is recoverable: roll the context back and try something else.
var ErrUnsatisfiable = errors.New("unsatisfiable")

// UnsatError says which slot could not be filled.
type UnsatError struct {
	Function string
	Position int
	Type     string
	Reason   string
}

func (e *UnsatError) Error() string {
	return fmt.Sprintf("%s: %s slot %d (%s): %s", ErrUnsatisfiable, e.Function, e.Position, e.Type, e.Reason)
}

func (e *UnsatError) Unwrap() error { return ErrUnsatisfiable }

func unsat(function string, pos int, typ, reason string) error {
	return &UnsatError{Function: function, Position: pos, Type: typ, Reason: reason}
}

// IsUnsatisfiable is errors.Is(err, ErrUnsatisfiable).
func IsUnsatisfiable(err error) bool {
	return errors.Is(err, ErrUnsatisfiable)
}
