// Package asmtest is a test-only mnemonic assembler: it turns lines like
// "PUSH 15" or "CALL 3" into vm.Instruction values so test programs read as
// mnemonics instead of raw 4-byte opcode tuples. It is adapted from the
// teacher's label-preprocessing assembler (compile.go/parse.go) but pared
// down to exactly what the test suite needs: no sections, no directives,
// just one mnemonic (and an optional decimal/hex immediate) per line. It
// must never be imported outside _test.go files — the host compiler that
// emits real bytecode is out of scope (§1).
package asmtest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cms-pm/cockpit-sub008/internal/vm"
)

var mnemonics = map[string]vm.Opcode{
	"HALT": vm.OpHalt, "PUSH": vm.OpPush, "POP": vm.OpPop,
	"ADD": vm.OpAdd, "SUB": vm.OpSub, "MUL": vm.OpMul, "DIV": vm.OpDiv, "MOD": vm.OpMod,
	"CALL": vm.OpCall, "RET": vm.OpRet,

	"PIN_MODE": vm.OpPinMode, "DIGITAL_WRITE": vm.OpDigitalWrite, "DIGITAL_READ": vm.OpDigitalRead,
	"ANALOG_WRITE": vm.OpAnalogWrite, "ANALOG_READ": vm.OpAnalogRead, "DELAY": vm.OpDelay,
	"MILLIS": vm.OpMillis, "MICROS": vm.OpMicros, "PRINTF": vm.OpPrintf,
	"BUTTON_PRESSED": vm.OpButtonPressed, "BUTTON_RELEASED": vm.OpButtonReleased,

	"EQ": vm.OpEq, "NE": vm.OpNe, "LT": vm.OpLt, "GT": vm.OpGt, "LE": vm.OpLe, "GE": vm.OpGe,
	"SEQ": vm.OpSEq, "SNE": vm.OpSNe, "SLT": vm.OpSLt, "SGT": vm.OpSGt, "SLE": vm.OpSLe, "SGE": vm.OpSGe,

	"JMP": vm.OpJmp, "JMP_TRUE": vm.OpJmpTrue, "JMP_FALSE": vm.OpJmpFalse,

	"AND": vm.OpLAnd, "OR": vm.OpLOr, "NOT": vm.OpLNot,

	"LOAD_GLOBAL": vm.OpLoadGlobal, "STORE_GLOBAL": vm.OpStoreGlobal,
	"LOAD_LOCAL": vm.OpLoadLocal, "STORE_LOCAL": vm.OpStoreLocal,
	"LOAD_ARRAY": vm.OpLoadArray, "STORE_ARRAY": vm.OpStoreArray, "CREATE_ARRAY": vm.OpCreateArray,

	"BAND": vm.OpBAnd, "BOR": vm.OpBOr, "BXOR": vm.OpBXor, "BNOT": vm.OpBNot, "SHL": vm.OpShl, "SHR": vm.OpShr,
}

// Assemble turns newline-separated mnemonic source into a program. A line
// may be blank, "//"-commented, or "MNEMONIC [immediate]" where immediate is
// a decimal or 0x-prefixed hex literal. There is no label support; tests
// spell jump/call targets as literal instruction indexes, which is exactly
// what the wire format (§3.1) stores.
func Assemble(source string) ([]vm.Instruction, error) {
	var out []vm.Instruction
	for lineNum, raw := range strings.Split(source, "\n") {
		line := stripComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		op, ok := mnemonics[strings.ToUpper(fields[0])]
		if !ok {
			return nil, fmt.Errorf("asmtest: line %d: unknown mnemonic %q", lineNum+1, fields[0])
		}

		var imm uint16
		var flags uint8
		if len(fields) > 1 {
			v, err := strconv.ParseInt(fields[1], 0, 32)
			if err != nil {
				return nil, fmt.Errorf("asmtest: line %d: bad immediate %q: %w", lineNum+1, fields[1], err)
			}
			imm = uint16(v)
		}
		if len(fields) > 2 {
			v, err := strconv.ParseUint(fields[2], 0, 8)
			if err != nil {
				return nil, fmt.Errorf("asmtest: line %d: bad flags %q: %w", lineNum+1, fields[2], err)
			}
			flags = uint8(v)
		}

		out = append(out, vm.Instruction{Opcode: op, Flags: flags, Immediate: imm})
	}
	return out, nil
}

// MustAssemble panics on error; meant for table-driven test fixtures where a
// malformed fixture is a test-authoring bug, not a runtime condition.
func MustAssemble(source string) []vm.Instruction {
	prog, err := Assemble(source)
	if err != nil {
		panic(err)
	}
	return prog
}

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		return line[:i]
	}
	return line
}
