package vm_test

import (
	"testing"

	"github.com/cms-pm/cockpit-sub008/internal/vm"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	want := vm.Instruction{Opcode: vm.OpStoreArray, Flags: 0xAB, Immediate: 0x1234}
	got := vm.Decode(vm.Encode(want))
	assert(t, got == want, "round trip mismatch: want %+v, got %+v", want, got)
}

func TestIsValidOpcodeTaxonomy(t *testing.T) {
	valid := []vm.Opcode{
		vm.OpHalt, vm.OpRet, vm.OpPinMode, vm.OpButtonReleased,
		vm.OpEq, vm.OpSGe, vm.OpJmp, vm.OpJmpFalse,
		vm.OpLAnd, vm.OpLNot, vm.OpLoadGlobal, vm.OpCreateArray,
		vm.OpBAnd, vm.OpShr,
	}
	for _, op := range valid {
		assert(t, vm.IsValidOpcode(op), "opcode 0x%02X should be valid", op)
	}

	invalid := []vm.Opcode{0x0A, 0x0F, 0x1B, 0x1F, 0x2C, 0x33, 0x43, 0x57, 0x66, 0xFF}
	for _, op := range invalid {
		assert(t, !vm.IsValidOpcode(op), "opcode 0x%02X should be invalid", op)
	}
}

func TestLoadProgramBytesRejectsMisalignedLength(t *testing.T) {
	_, err := vm.LoadProgramBytes([]byte{1, 2, 3})
	assert(t, err == vm.ErrMalformedProgram, "want ErrMalformedProgram, got %v", err)
}

func TestLoadProgramBytesDecodesLittleEndian(t *testing.T) {
	// HALT (0x00) with flags 0x00 and immediate 0x0000, little-endian word.
	prog, err := vm.LoadProgramBytes([]byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x0F, 0x00})
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(prog) == 2, "want 2 instructions, got %d", len(prog))
	assert(t, prog[1].Opcode == vm.OpPush && prog[1].Immediate == 0x000F,
		"want PUSH imm=0x0F, got %+v", prog[1])
}

func TestIsJumpTargetInBounds(t *testing.T) {
	assert(t, vm.IsJumpTargetInBounds(0, 1, 2), "target 1 in 2-instruction program should be in bounds")
	assert(t, !vm.IsJumpTargetInBounds(0, 2, 2), "target == program_len should be out of bounds")
}
