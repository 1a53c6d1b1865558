package proto

import "errors"

// Protocol error kinds (spec §7).
var (
	ErrInvalidSequence = errors.New("invalid sequence_id")
	ErrStateInvalid    = errors.New("request invalid for current session state")
	ErrInvalidRequest  = errors.New("invalid request")
)
