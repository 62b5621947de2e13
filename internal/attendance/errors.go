package attendance

import "errors"

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrSessionFull is returned by a registration store when inserting would push
// a session past its capacity. Nothing is written in that case.
var ErrSessionFull = errors.New("session is full")

// ErrConflict is returned when a create would violate a uniqueness constraint,
// such as a second user with the same email.
var ErrConflict = errors.New("already exists")
