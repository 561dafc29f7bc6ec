package engine

import "errors"

var (
	// ErrAlreadyInSession: the engine holds exactly one current session per
	// process; create/join while not idle is refused.
	ErrAlreadyInSession = errors.New("already in a reading session")

	ErrNotInSession = errors.New("not in a reading session")
)
