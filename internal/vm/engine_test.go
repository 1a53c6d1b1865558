package vm_test

import (
	"errors"
	"testing"

	"github.com/cms-pm/cockpit-sub008/internal/vm"
	"github.com/cms-pm/cockpit-sub008/internal/vm/asmtest"
	"github.com/cms-pm/cockpit-sub008/internal/vm/simhost"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func newTestEngine(t *testing.T, source string) *vm.Engine {
	t.Helper()
	prog := asmtest.MustAssemble(source)
	mem, err := vm.NewMemoryContext(16, 4, 16)
	assert(t, err == nil, "NewMemoryContext: %v", err)
	return vm.NewEngine(prog, mem, simhost.NewDeterministic())
}

// Scenario 1 (§8): PUSH 15; PUSH 25; ADD; HALT -> stack [40], no error.
func TestArithmeticScenario(t *testing.T) {
	e := newTestEngine(t, `
		PUSH 15
		PUSH 25
		ADD
		HALT
	`)
	err := e.ExecuteProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	stack := e.Stack()
	assert(t, len(stack) == 1 && stack[0] == 40, "want [40], got %v", stack)
}

// Scenario 2 (§8): PUSH 42; PUSH 0; DIV; HALT -> DivisionByZero, no further
// instructions retired (HALT never runs).
func TestDivisionByZeroScenario(t *testing.T) {
	e := newTestEngine(t, `
		PUSH 42
		PUSH 0
		DIV
		HALT
	`)
	err := e.ExecuteProgram()
	assert(t, errors.Is(err, vm.ErrDivisionByZero), "want ErrDivisionByZero, got %v", err)
	assert(t, e.Stats().Instructions == 2, "want 2 instructions retired before fault, got %d", e.Stats().Instructions)
}

// Scenario 3 (§8): nested CALL/RET balance and final pc lands on the
// original HALT with no error.
//
//	0: CALL 3
//	1: HALT
//	2: (unused)
//	3: CALL 6
//	4: RET
//	5: (unused)
//	6: PUSH 42
//	7: POP
//	8: RET
func TestNestedCallsScenario(t *testing.T) {
	e := newTestEngine(t, `
		CALL 3
		HALT
		HALT
		CALL 6
		RET
		HALT
		PUSH 42
		POP
		RET
	`)
	err := e.ExecuteProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, e.PC() == 1, "want pc==1 (the original HALT), got %d", e.PC())
}

// Scenario 4 (§8): JMP 5 in a 2-instruction program -> PcOutOfBounds.
func TestInvalidJumpScenario(t *testing.T) {
	e := newTestEngine(t, `
		JMP 5
		HALT
	`)
	err := e.ExecuteProgram()
	assert(t, errors.Is(err, vm.ErrPcOutOfBounds), "want ErrPcOutOfBounds, got %v", err)
}

func TestStackUnderflowOnPop(t *testing.T) {
	e := newTestEngine(t, `POP`)
	err := e.ExecuteProgram()
	assert(t, errors.Is(err, vm.ErrStackUnderflow), "want ErrStackUnderflow, got %v", err)
}

func TestStackOverflow(t *testing.T) {
	prog := make([]vm.Instruction, 0, vm.StackMax+2)
	for i := 0; i < vm.StackMax+1; i++ {
		prog = append(prog, vm.Instruction{Opcode: vm.OpPush, Immediate: 1})
	}
	mem, err := vm.NewMemoryContext(4, 2, 4)
	assert(t, err == nil, "NewMemoryContext: %v", err)
	e := vm.NewEngine(prog, mem, simhost.NewDeterministic())
	err = e.ExecuteProgram()
	assert(t, errors.Is(err, vm.ErrStackOverflow), "want ErrStackOverflow, got %v", err)
}

func TestInvalidOpcodeOutsideTaxonomy(t *testing.T) {
	mem, err := vm.NewMemoryContext(4, 2, 4)
	assert(t, err == nil, "NewMemoryContext: %v", err)
	prog := []vm.Instruction{{Opcode: 0x70}} // 0x70 falls outside every reserved band
	e := vm.NewEngine(prog, mem, simhost.NewDeterministic())
	err = e.ExecuteProgram()
	assert(t, errors.Is(err, vm.ErrInvalidOpcode), "want ErrInvalidOpcode, got %v", err)
}

func TestJumpAtProgramLengthIsOutOfBounds(t *testing.T) {
	// Boundary behavior (§8): jump with immediate == program_len -> PcOutOfBounds.
	e := newTestEngine(t, `
		JMP 1
	`)
	err := e.ExecuteProgram()
	assert(t, errors.Is(err, vm.ErrPcOutOfBounds), "want ErrPcOutOfBounds, got %v", err)
}

func TestResetIsIdempotent(t *testing.T) {
	e := newTestEngine(t, `PUSH 1
HALT`)
	_ = e.ExecuteProgram()
	e.Reset()
	snapA := [3]any{e.PC(), e.SP(), e.Halted()}
	e.Reset()
	snapB := [3]any{e.PC(), e.SP(), e.Halted()}
	assert(t, snapA == snapB, "reset(reset(vm)) != reset(vm): %v vs %v", snapA, snapB)
}

type recordingObserver struct {
	instructions int
	completed    bool
}

func (r *recordingObserver) OnInstructionExecuted(pcBefore uint32, op vm.Opcode, immediate uint16) {
	r.instructions++
}
func (r *recordingObserver) OnExecutionComplete(total uint64, elapsedMs uint64) { r.completed = true }
func (r *recordingObserver) OnVMReset()                                        {}

func TestObserverNotifiedInRegistrationOrder(t *testing.T) {
	e := newTestEngine(t, `PUSH 1
PUSH 2
ADD
HALT`)
	var order []int
	first := &orderObserver{id: 1, order: &order}
	second := &orderObserver{id: 2, order: &order}
	assert(t, e.RegisterObserver(first), "register first observer")
	assert(t, e.RegisterObserver(second), "register second observer")

	err := e.ExecuteProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(order) >= 2 && order[0] == 1 && order[1] == 2,
		"observers must fire in registration order, got %v", order)
}

type orderObserver struct {
	id    int
	order *[]int
}

func (o *orderObserver) OnInstructionExecuted(pcBefore uint32, op vm.Opcode, immediate uint16) {
	*o.order = append(*o.order, o.id)
}
func (o *orderObserver) OnExecutionComplete(total uint64, elapsedMs uint64) {}
func (o *orderObserver) OnVMReset()                                        {}

func TestPanickingObserverIsUnregisteredNotFatal(t *testing.T) {
	e := newTestEngine(t, `PUSH 1
HALT`)
	assert(t, e.RegisterObserver(panicObserver{}), "register panicking observer")
	rec := &recordingObserver{}
	assert(t, e.RegisterObserver(rec), "register recording observer")

	err := e.ExecuteProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, rec.completed, "well-behaved observer must still see completion")
}

type panicObserver struct{}

func (panicObserver) OnInstructionExecuted(pcBefore uint32, op vm.Opcode, immediate uint16) {
	panic("observer bug")
}
func (panicObserver) OnExecutionComplete(total uint64, elapsedMs uint64) {}
func (panicObserver) OnVMReset()                                        {}

func TestSignedVsUnsignedComparison(t *testing.T) {
	// -1 as uint32 is huge, so unsigned LT(-1, 1) is false, signed SLT(-1, 1) is true.
	e := newTestEngine(t, `
		PUSH -1
		PUSH 1
		LT
		HALT
	`)
	err := e.ExecuteProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, e.Stack()[0] == 0, "unsigned LT(-1,1) should be false, got %v", e.Stack())

	e2 := newTestEngine(t, `
		PUSH -1
		PUSH 1
		SLT
		HALT
	`)
	err = e2.ExecuteProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, e2.Stack()[0] == 1, "signed SLT(-1,1) should be true, got %v", e2.Stack())
}

func TestExecuteSingleStepCooperativeScheduling(t *testing.T) {
	a := newTestEngine(t, `PUSH 1
PUSH 2
ADD
HALT`)
	b := newTestEngine(t, `PUSH 10
PUSH 20
ADD
HALT`)

	for {
		contA, errA := a.ExecuteSingleStep()
		assert(t, errA == nil, "engine a: %v", errA)
		contB, errB := b.ExecuteSingleStep()
		assert(t, errB == nil, "engine b: %v", errB)
		if !contA && !contB {
			break
		}
	}
	assert(t, a.Stack()[0] == 3, "engine a result: %v", a.Stack())
	assert(t, b.Stack()[0] == 30, "engine b result: %v", b.Stack())
}
