package wire

import "errors"

// Error kinds per spec §7. Propagation policy: these are always local to a
// connection — logged and the connection dropped; they never terminate a
// Replay.
var (
	ErrNoData    = errors.New("no_data")
	ErrBadData   = errors.New("bad_data")
	ErrIO        = errors.New("io")
	ErrCannotAssign = errors.New("cannot_assign")
	ErrDatabase  = errors.New("database")
)
