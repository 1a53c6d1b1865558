package vm

import "fmt"

// dispatchTable maps every valid opcode to its handler. Built once at
// package init so ExecuteSingleStep/ExecuteProgram never pay map-construction
// cost per instruction.
var dispatchTable map[Opcode]handlerFunc

func init() {
	dispatchTable = map[Opcode]handlerFunc{
		OpHalt: hHalt,
		OpPush: hPush,
		OpPop:  hPop,
		OpAdd:  hAdd,
		OpSub:  hSub,
		OpMul:  hMul,
		OpDiv:  hDiv,
		OpMod:  hMod,
		OpCall: hCall,
		OpRet:  hRet,

		OpPinMode:        hPinMode,
		OpDigitalWrite:   hDigitalWrite,
		OpDigitalRead:    hDigitalRead,
		OpAnalogWrite:    hAnalogWrite,
		OpAnalogRead:     hAnalogRead,
		OpDelay:          hDelay,
		OpMillis:         hMillis,
		OpMicros:         hMicros,
		OpPrintf:         hPrintf,
		OpButtonPressed:  hButtonPressed,
		OpButtonReleased: hButtonReleased,

		OpEq: hCmpUnsigned(func(a, b uint32) bool { return a == b }),
		OpNe: hCmpUnsigned(func(a, b uint32) bool { return a != b }),
		OpLt: hCmpUnsigned(func(a, b uint32) bool { return a < b }),
		OpGt: hCmpUnsigned(func(a, b uint32) bool { return a > b }),
		OpLe: hCmpUnsigned(func(a, b uint32) bool { return a <= b }),
		OpGe: hCmpUnsigned(func(a, b uint32) bool { return a >= b }),

		OpSEq: hCmpSigned(func(a, b int32) bool { return a == b }),
		OpSNe: hCmpSigned(func(a, b int32) bool { return a != b }),
		OpSLt: hCmpSigned(func(a, b int32) bool { return a < b }),
		OpSGt: hCmpSigned(func(a, b int32) bool { return a > b }),
		OpSLe: hCmpSigned(func(a, b int32) bool { return a <= b }),
		OpSGe: hCmpSigned(func(a, b int32) bool { return a >= b }),

		OpJmp:      hJmp,
		OpJmpTrue:  hJmpTrue,
		OpJmpFalse: hJmpFalse,

		OpLAnd: hLAnd,
		OpLOr:  hLOr,
		OpLNot: hLNot,

		OpLoadGlobal:  hLoadGlobal,
		OpStoreGlobal: hStoreGlobal,
		OpLoadLocal:   hLoadGlobal,  // aliased to globals in the minimal profile, §9
		OpStoreLocal:  hStoreGlobal, // ditto
		OpLoadArray:   hLoadArray,
		OpStoreArray:  hStoreArray,
		OpCreateArray: hCreateArray,

		OpBAnd: hBAnd,
		OpBOr:  hBOr,
		OpBXor: hBXor,
		OpBNot: hBNot,
		OpShl:  hShl,
		OpShr:  hShr,
	}
}

// --- core control / stack ---

func hHalt(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return handlerHalted()
}

// PUSH/POP in the core band push or discard the literal carried in
// immediate; the array-pool PUSH/POP style of the teacher's stack-resizing
// instructions has no analogue here since S_MAX is fixed (§3.4).
func hPush(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return e.pushOK(int32(int16(immediate)))
}

func hPop(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	if _, ok := e.pop(); !ok {
		return handlerError(ErrStackUnderflow)
	}
	return handlerContinue()
}

// binArith pops b then a (top first) and pushes the result of a OP b.
func binArith(e *Engine, op func(a, b int32) (int32, error)) HandlerReturn {
	b, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	a, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	result, err := op(a, b)
	if err != nil {
		return handlerError(err)
	}
	return e.pushOK(result)
}

func hAdd(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return binArith(e, func(a, b int32) (int32, error) { return a + b, nil })
}

func hSub(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return binArith(e, func(a, b int32) (int32, error) { return a - b, nil })
}

func hMul(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return binArith(e, func(a, b int32) (int32, error) { return a * b, nil })
}

func hDiv(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return binArith(e, func(a, b int32) (int32, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	})
}

func hMod(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return binArith(e, func(a, b int32) (int32, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a % b, nil
	})
}

// CALL pushes pc+1 (the return instruction index) then jumps to immediate.
func hCall(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	if !IsJumpTargetInBounds(e.pc+1, immediate, len(e.program)) {
		return handlerError(ErrInvalidJump)
	}
	ret := e.push(int32(e.pc + 1))
	if ret.kind == rkError {
		return ret
	}
	e.pc = uint32(immediate)
	return handlerJumped()
}

// RET pops a return instruction index and jumps to it.
func hRet(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	v, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	if v < 0 || int(v) >= len(e.program) {
		return handlerError(ErrInvalidJump)
	}
	e.pc = uint32(v)
	return handlerJumped()
}

// --- control flow ---

func hJmp(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	if !IsJumpTargetInBounds(e.pc, immediate, len(e.program)) {
		return handlerError(ErrPcOutOfBounds)
	}
	e.pc = uint32(immediate)
	return handlerJumped()
}

func hJmpTrue(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return condJump(e, immediate, func(v int32) bool { return v != 0 })
}

func hJmpFalse(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return condJump(e, immediate, func(v int32) bool { return v == 0 })
}

func condJump(e *Engine, immediate uint16, take func(int32) bool) HandlerReturn {
	v, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	if !take(v) {
		return handlerContinue()
	}
	if !IsJumpTargetInBounds(e.pc, immediate, len(e.program)) {
		return handlerError(ErrPcOutOfBounds)
	}
	e.pc = uint32(immediate)
	return handlerJumped()
}

// --- comparisons: result pushed is 0 or 1 ---

func hCmpUnsigned(cmp func(a, b uint32) bool) handlerFunc {
	return func(e *Engine, flags uint8, immediate uint16) HandlerReturn {
		b, ok := e.pop()
		if !ok {
			return handlerError(ErrStackUnderflow)
		}
		a, ok := e.pop()
		if !ok {
			return handlerError(ErrStackUnderflow)
		}
		return e.pushOK(boolToInt32(cmp(uint32(a), uint32(b))))
	}
}

func hCmpSigned(cmp func(a, b int32) bool) handlerFunc {
	return func(e *Engine, flags uint8, immediate uint16) HandlerReturn {
		b, ok := e.pop()
		if !ok {
			return handlerError(ErrStackUnderflow)
		}
		a, ok := e.pop()
		if !ok {
			return handlerError(ErrStackUnderflow)
		}
		return e.pushOK(boolToInt32(cmp(a, b)))
	}
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// --- logical (C-boolean semantics, §4.3) ---

func hLAnd(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	b, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	a, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	return e.pushOK(boolToInt32(a != 0 && b != 0))
}

func hLOr(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	b, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	a, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	return e.pushOK(boolToInt32(a != 0 || b != 0))
}

func hLNot(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	a, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	return e.pushOK(boolToInt32(a == 0))
}

// --- memory (§3.3, §4.2) ---

func hLoadGlobal(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	v, ok := e.mem.LoadGlobal(int(immediate))
	if !ok {
		return handlerError(fmt.Errorf("%w: global %d", ErrMemoryBounds, immediate))
	}
	e.counters.MemoryOps++
	return e.pushOK(v)
}

func hStoreGlobal(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	v, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	if err := e.mem.StoreGlobal(int(immediate), v); err != nil {
		return handlerError(err)
	}
	e.counters.MemoryOps++
	return handlerContinue()
}

// CREATE_ARRAY: immediate is the array id; the requested length is popped
// off the stack so it can be computed at run time.
func hCreateArray(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	length, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	if err := e.mem.CreateArray(int(immediate), int(length)); err != nil {
		return handlerError(err)
	}
	e.counters.MemoryOps++
	return handlerContinue()
}

// LOAD_ARRAY: immediate is the array id; the index is popped and the value
// pushed.
func hLoadArray(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	idx, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	v, err := e.mem.LoadArray(int(immediate), int(idx))
	if err != nil {
		return handlerError(err)
	}
	e.counters.MemoryOps++
	return e.pushOK(v)
}

// STORE_ARRAY: immediate is the array id; pops index then value (top
// first), so a program pushes the value before the index.
func hStoreArray(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	idx, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	value, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	if err := e.mem.StoreArray(int(immediate), int(idx), value); err != nil {
		return handlerError(err)
	}
	e.counters.MemoryOps++
	return handlerContinue()
}

// --- bitwise ---

func hBAnd(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return binArith(e, func(a, b int32) (int32, error) { return a & b, nil })
}

func hBOr(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return binArith(e, func(a, b int32) (int32, error) { return a | b, nil })
}

func hBXor(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return binArith(e, func(a, b int32) (int32, error) { return a ^ b, nil })
}

func hBNot(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	a, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	return e.pushOK(^a)
}

// hShl/hShr consume the shift amount as the second (top) operand.
// SHR is logical by default (§4.3); flag bit 0 selects arithmetic shift on a
// signed operand.
const flagArithShift = 1 << 0

func hShl(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	return binArith(e, func(a, b int32) (int32, error) {
		return int32(uint32(a) << (uint32(b) & 31)), nil
	})
}

func hShr(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	shift := uint32(0)
	b, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	shift = uint32(b) & 31
	a, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	if flags&flagArithShift != 0 {
		return e.pushOK(a >> shift)
	}
	return e.pushOK(int32(uint32(a) >> shift))
}

// --- host/platform calls (§4.3, §4.4) ---

func liftHost(status HostStatus) error {
	if status == HostOK {
		return nil
	}
	return fmt.Errorf("%w: host status %d", ErrHardwareFault, status)
}

func hPinMode(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	mode, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	pin, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	e.counters.IOOps++
	if err := liftHost(e.io.GPIOConfig(uint8(pin), PinMode(mode))); err != nil {
		return handlerError(err)
	}
	return handlerContinue()
}

func hDigitalWrite(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	value, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	pin, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	e.counters.IOOps++
	if err := liftHost(e.io.GPIOWrite(uint8(pin), uint8(value))); err != nil {
		return handlerError(err)
	}
	return handlerContinue()
}

func hDigitalRead(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	pin, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	e.counters.IOOps++
	v, status := e.io.GPIORead(uint8(pin))
	if err := liftHost(status); err != nil {
		return handlerError(err)
	}
	return e.pushOK(int32(v))
}

func hAnalogWrite(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	value, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	pin, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	e.counters.IOOps++
	if err := liftHost(e.io.AnalogWrite(uint8(pin), uint16(value))); err != nil {
		return handlerError(err)
	}
	return handlerContinue()
}

func hAnalogRead(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	pin, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	e.counters.IOOps++
	v, status := e.io.AnalogRead(uint8(pin))
	if err := liftHost(status); err != nil {
		return handlerError(err)
	}
	return e.pushOK(int32(v))
}

func hDelay(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	ms, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	e.counters.IOOps++
	if err := liftHost(e.io.DelayMs(uint32(ms))); err != nil {
		return handlerError(err)
	}
	return handlerContinue()
}

func hMillis(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	e.counters.IOOps++
	return e.pushOK(int32(e.io.TickMs()))
}

func hMicros(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	e.counters.IOOps++
	return e.pushOK(int32(e.io.TickUs()))
}

// PRINTF consumes a string-table index (immediate) and a count of integer
// arguments (popped first, top of stack), then pops that many integers
// (in reverse push order) to substitute into the stored format string
// (§4.3, §6.1 supplemented in SPEC_FULL.md).
func hPrintf(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	if int(immediate) >= len(e.strings) {
		return handlerError(fmt.Errorf("%w: string table index %d", ErrMemoryBounds, immediate))
	}
	argc, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	if argc < 0 {
		return handlerError(fmt.Errorf("%w: printf argc %d", ErrMemoryBounds, argc))
	}
	if int(argc) > e.sp {
		return handlerError(fmt.Errorf("%w: printf argc %d exceeds live stack depth %d", ErrStackUnderflow, argc, e.sp))
	}
	args := make([]any, argc)
	for i := int(argc) - 1; i >= 0; i-- {
		v, ok := e.pop()
		if !ok {
			return handlerError(ErrStackUnderflow)
		}
		args[i] = v
	}
	e.counters.IOOps++
	rendered := renderPrintf(e.strings[immediate], args)
	if err := liftHost(e.io.SerialWriteStr(0, rendered)); err != nil {
		return handlerError(err)
	}
	return handlerContinue()
}

// renderPrintf resolves %d-class integer placeholders against args in
// order; any other verb is passed through to fmt.Sprintf unmodified. A
// full C printf grammar is out of scope (the host compiler owns format
// string validation, §1 "Out of scope").
func renderPrintf(format string, args []any) string {
	return fmt.Sprintf(format, args...)
}

func hButtonPressed(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	pin, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	e.counters.IOOps++
	v, status := e.io.ButtonPressed(uint8(pin))
	if err := liftHost(status); err != nil {
		return handlerError(err)
	}
	return e.pushOK(boolToInt32(v))
}

func hButtonReleased(e *Engine, flags uint8, immediate uint16) HandlerReturn {
	pin, ok := e.pop()
	if !ok {
		return handlerError(ErrStackUnderflow)
	}
	e.counters.IOOps++
	v, status := e.io.ButtonReleased(uint8(pin))
	if err := liftHost(status); err != nil {
		return handlerError(err)
	}
	return e.pushOK(boolToInt32(v))
}
