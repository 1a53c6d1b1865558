package vm

import "errors"

// VmError sentinels, §7. All are terminal for the current execution run.
var (
	ErrStackOverflow      = errors.New("stack overflow")
	ErrStackUnderflow     = errors.New("stack underflow")
	ErrInvalidOpcode      = errors.New("invalid opcode")
	ErrInvalidJump        = errors.New("invalid jump target")
	ErrPcOutOfBounds      = errors.New("pc out of bounds")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrMemoryBounds       = errors.New("memory bounds violation")
	ErrHardwareFault      = errors.New("hardware fault")
	ErrProgramLimitReached = errors.New("instruction limit reached")

	// ErrMalformedProgram is a loader-time error (§6.1), not a VmError kind,
	// but lives alongside the others since it gates the same load path.
	ErrMalformedProgram = errors.New("program length not divisible by 4")

	// ErrConfig is returned by MemoryContext's validating factory (§4.2).
	ErrConfig = errors.New("invalid memory context configuration")
)
