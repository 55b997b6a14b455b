package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoMatch is returned by strict composition when no authored template
// satisfies the active guidelines. It marks a defined terminal state of the
// turn, not a failure.
var ErrNoMatch = errors.New("no template matches")

// ErrAmbiguousArgument is returned when a required tool parameter has
// mutually inconsistent candidate values within the same turn. Ambiguity is
// never resolved by guessing.
var ErrAmbiguousArgument = errors.New("ambiguous argument value")

// ErrTurnCancelled is returned when a turn is cancelled before composition
// commits. The turn produces no message event.
var ErrTurnCancelled = errors.New("turn cancelled")

// ErrToolNotFound is returned when a planned call references a tool the
// invoker does not provide.
var ErrToolNotFound = errors.New("tool not found")
