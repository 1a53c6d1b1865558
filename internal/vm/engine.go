package vm

import "time"

// StackMax is S_MAX, the fixed maximum operand stack depth (§3.4).
const StackMax = 256

// DefaultInstructionLimit bounds a full execute_program() run so a runaway
// loop cannot hang the host indefinitely (§4.3). Configurable via
// EngineOption.
const DefaultInstructionLimit = 1_000_000

// returnKind is the discriminant of HandlerReturn (§4.3). Handlers never
// construct returnKind directly; they use the Continue/Jumped/Halted/Err
// constructor functions below so PC ownership stays with the dispatcher.
type returnKind uint8

const (
	rkContinue returnKind = iota
	rkJumped
	rkHalted
	rkError
)

// HandlerReturn is the sum type by which a handler tells the dispatcher how
// to update PC. It has exactly four variants: Continue, Jumped, Halted, and
// Error(VmError). This replaces an earlier save/compare-PC pattern that
// coupled the dispatcher and the handler and made PC ownership ambiguous
// (§9 "Dispatch discipline").
type HandlerReturn struct {
	kind returnKind
	err  error
}

func handlerContinue() HandlerReturn       { return HandlerReturn{kind: rkContinue} }
func handlerJumped() HandlerReturn         { return HandlerReturn{kind: rkJumped} }
func handlerHalted() HandlerReturn         { return HandlerReturn{kind: rkHalted} }
func handlerError(err error) HandlerReturn { return HandlerReturn{kind: rkError, err: err} }

// RunState is the engine's high-level lifecycle (§4.3 state machine).
type RunState int

const (
	StateIdle RunState = iota
	StateLoaded
	StateRunning
	StateHalted
	StateFaulted
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoaded:
		return "Loaded"
	case StateRunning:
		return "Running"
	case StateHalted:
		return "Halted"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Counters are the performance counters held in ExecutionState (§3.4).
type Counters struct {
	Instructions uint64
	MemoryOps    uint64
	IOOps        uint64
	ElapsedMs    uint64
}

// handlerFunc is the uniform dispatch signature of §4.3: a handler reads
// flags/immediate and mutates the engine's operand stack plus the injected
// MemoryContext/HostInterface, returning a HandlerReturn that tells the
// dispatcher what happened to PC.
type handlerFunc func(e *Engine, flags uint8, immediate uint16) HandlerReturn

// Engine is Core A's ExecutionEngine (C3): fetch/decode/execute loop over an
// immutable program, holding the operand stack and performance counters.
// One Engine exclusively owns one MemoryContext and one HostInterface; it is
// never shared across VM instances (§9).
type Engine struct {
	program []Instruction
	mem     *MemoryContext
	io      HostInterface
	strings []string // PRINTF string table, §6.1

	pc     uint32
	sp     int
	stack  [StackMax]int32
	halted bool
	lastErr error

	state    RunState
	counters Counters
	limit    uint64

	bus   observerBus
	start time.Time
}

// NewEngine constructs an Engine bound to a program, memory context, and
// host interface. The instruction limit defaults to DefaultInstructionLimit;
// use WithInstructionLimit to override it (e.g. in tests).
func NewEngine(program []Instruction, mem *MemoryContext, io HostInterface, opts ...EngineOption) *Engine {
	e := &Engine{
		program: program,
		mem:     mem,
		io:      io,
		limit:   DefaultInstructionLimit,
		state:   StateLoaded,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithInstructionLimit overrides DefaultInstructionLimit.
func WithInstructionLimit(n uint64) EngineOption {
	return func(e *Engine) { e.limit = n }
}

// WithStringTable registers the loader's out-of-band PRINTF string table
// (§6.1).
func WithStringTable(strs []string) EngineOption {
	return func(e *Engine) { e.strings = strs }
}

// RegisterObserver adds o to the engine's observer bus; false if the bus is
// already at capacity (§4.5).
func (e *Engine) RegisterObserver(o Observer) bool { return e.bus.Register(o) }

// UnregisterObserver removes o from the bus.
func (e *Engine) UnregisterObserver(o Observer) { e.bus.Unregister(o) }

// PC, SP, Halted, LastError and Counters expose ExecutionState for
// diagnostics and tests.
func (e *Engine) PC() uint32        { return e.pc }
func (e *Engine) SP() int           { return e.sp }
func (e *Engine) Halted() bool      { return e.halted }
func (e *Engine) LastError() error  { return e.lastErr }
func (e *Engine) State() RunState   { return e.state }
func (e *Engine) Stats() Counters   { return e.counters }

// Stack returns a defensive copy of the live operand stack (bottom to top)
// for test assertions and observer-facing tooling.
func (e *Engine) Stack() []int32 {
	out := make([]int32, e.sp)
	copy(out, e.stack[:e.sp])
	return out
}

// Reset zeroes pc, sp, stack, halted, last_error and returns the engine to
// Idle. It does NOT zero the MemoryContext unless the embedder separately
// calls MemoryContext.Reset (§4.3).
func (e *Engine) Reset() {
	e.pc = 0
	e.sp = 0
	for i := range e.stack {
		e.stack[i] = 0
	}
	e.halted = false
	e.lastErr = nil
	e.counters = Counters{}
	e.state = StateIdle
	e.bus.notifyReset()
}

// ExecuteProgram runs to HALT or until the instruction limit is hit
// (ErrProgramLimitReached), whichever comes first.
func (e *Engine) ExecuteProgram() error {
	if e.state == StateIdle {
		e.state = StateLoaded
	}
	e.state = StateRunning
	e.start = time.Now()

	for {
		cont, err := e.stepLocked()
		if err != nil {
			return err
		}
		if !cont {
			return e.lastErr
		}
	}
}

// ExecuteSingleStep executes exactly one instruction; used by observers,
// the host-side diagnostics harness, and cooperative multi-VM scheduling
// (§9 "Coroutine-like behavior"). It returns false once the engine has
// halted or faulted.
func (e *Engine) ExecuteSingleStep() (bool, error) {
	if e.state == StateIdle || e.state == StateLoaded {
		e.state = StateRunning
		e.start = time.Now()
	}
	return e.stepLocked()
}

// stepLocked executes one instruction and reports whether the caller should
// keep stepping.
func (e *Engine) stepLocked() (bool, error) {
	if e.halted || e.state == StateFaulted {
		return false, nil
	}
	if e.counters.Instructions >= e.limit {
		e.fail(ErrProgramLimitReached)
		return false, e.lastErr
	}
	if e.pc >= uint32(len(e.program)) {
		e.fail(ErrPcOutOfBounds)
		return false, e.lastErr
	}

	pcBefore := e.pc
	ins := e.program[e.pc]

	if !IsValidOpcode(ins.Opcode) {
		e.fail(ErrInvalidOpcode)
		return false, e.lastErr
	}

	handler, ok := dispatchTable[ins.Opcode]
	if !ok {
		e.fail(ErrInvalidOpcode)
		return false, e.lastErr
	}

	ret := handler(e, ins.Flags, ins.Immediate)
	switch ret.kind {
	case rkContinue:
		e.pc++
	case rkJumped:
		// handler already assigned e.pc
	case rkHalted:
		e.halted = true
		e.state = StateHalted
	case rkError:
		e.fail(ret.err)
		return false, e.lastErr
	}

	e.counters.Instructions++
	e.counters.ElapsedMs = uint64(time.Since(e.start).Milliseconds())
	e.bus.notifyInstruction(pcBefore, ins.Opcode, ins.Immediate)

	if e.halted {
		e.bus.notifyComplete(e.counters.Instructions, e.counters.ElapsedMs)
		return false, nil
	}
	return true, nil
}

// fail records a terminal VmError, transitions to Faulted, and still
// notifies observers of completion with the count reached (§4.3 "Failure
// semantics").
func (e *Engine) fail(err error) {
	e.lastErr = err
	e.state = StateFaulted
	e.counters.ElapsedMs = uint64(time.Since(e.start).Milliseconds())
	e.bus.notifyComplete(e.counters.Instructions, e.counters.ElapsedMs)
}

// --- operand stack primitives, shared by handlers.go ---

func (e *Engine) push(v int32) HandlerReturn {
	if e.sp >= StackMax {
		return handlerError(ErrStackOverflow)
	}
	e.stack[e.sp] = v
	e.sp++
	return HandlerReturn{}
}

// pushOK pushes and signals Continue in one step, the common case for
// handlers whose only effect is a stack push.
func (e *Engine) pushOK(v int32) HandlerReturn {
	if r := e.push(v); r.kind == rkError {
		return r
	}
	return handlerContinue()
}

func (e *Engine) pop() (int32, bool) {
	if e.sp == 0 {
		return 0, false
	}
	e.sp--
	return e.stack[e.sp], true
}
