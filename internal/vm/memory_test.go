package vm_test

import (
	"errors"
	"testing"

	"github.com/cms-pm/cockpit-sub008/internal/vm"
)

func TestMemoryContextConfigValidation(t *testing.T) {
	cases := []struct {
		name             string
		g, a, e          int
		wantErr          bool
	}{
		{"valid", 8, 4, 16, false},
		{"zero globals", 0, 4, 16, true},
		{"zero arrays", 8, 0, 16, true},
		{"zero elems", 8, 4, 0, true},
		{"globals over max", vm.MaxGlobals + 1, 4, 16, true},
		{"arrays over max", 8, vm.MaxArrays + 1, 16, true},
		{"elems over max", 8, 4, vm.MaxArrayElems + 1, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := vm.NewMemoryContext(c.g, c.a, c.e)
			if c.wantErr {
				assert(t, errors.Is(err, vm.ErrConfig), "%s: want ErrConfig, got %v", c.name, err)
			} else {
				assert(t, err == nil, "%s: unexpected error %v", c.name, err)
			}
		})
	}
}

func TestGlobalBoundsAndCount(t *testing.T) {
	mem, err := vm.NewMemoryContext(4, 2, 4)
	assert(t, err == nil, "NewMemoryContext: %v", err)

	_, ok := mem.LoadGlobal(4)
	assert(t, !ok, "load out-of-range global should fail")

	err = mem.StoreGlobal(4, 1)
	assert(t, errors.Is(err, vm.ErrMemoryBounds), "want ErrMemoryBounds, got %v", err)

	err = mem.StoreGlobal(2, 99)
	assert(t, err == nil, "StoreGlobal(2,99): %v", err)
	assert(t, mem.GlobalCount() == 3, "want global_count==3, got %d", mem.GlobalCount())

	v, ok := mem.LoadGlobal(2)
	assert(t, ok && v == 99, "want (99,true), got (%d,%v)", v, ok)
}

func TestArrayLifecycleAndOverlap(t *testing.T) {
	mem, err := vm.NewMemoryContext(4, 2, vm.MaxArrayElems)
	assert(t, err == nil, "NewMemoryContext: %v", err)

	// Boundary (§8): len == E_MAX succeeds, E_MAX+1 fails.
	err = mem.CreateArray(0, vm.MaxArrayElems)
	assert(t, err == nil, "CreateArray at E_MAX: %v", err)

	small, err := vm.NewMemoryContext(4, 2, 4)
	assert(t, err == nil, "NewMemoryContext: %v", err)
	err = small.CreateArray(0, 5)
	assert(t, errors.Is(err, vm.ErrMemoryBounds), "CreateArray(len=E_MAX+1) want ErrMemoryBounds, got %v", err)

	// Double allocation is rejected.
	err = small.CreateArray(1, 2)
	assert(t, err == nil, "CreateArray(1,2): %v", err)
	err = small.CreateArray(1, 2)
	assert(t, errors.Is(err, vm.ErrMemoryBounds), "double allocation want ErrMemoryBounds, got %v", err)

	// Two active arrays never overlap: array 1 got [0,2), the next array
	// must start at offset 2, not reuse [0,2).
	err = small.StoreArray(1, 0, 7)
	assert(t, err == nil, "StoreArray: %v", err)
	err = small.CreateArray(0, 2)
	assert(t, err == nil, "CreateArray(0,2): %v", err)
	err = small.StoreArray(0, 0, 42)
	assert(t, err == nil, "StoreArray: %v", err)
	v, err := small.LoadArray(1, 0)
	assert(t, err == nil && v == 7, "array 1 slot 0 clobbered by array 0: got %d, err %v", v, err)

	_, err = small.LoadArray(1, 99)
	assert(t, errors.Is(err, vm.ErrMemoryBounds), "out-of-range index want ErrMemoryBounds, got %v", err)

	_, err = small.LoadArray(3, 0)
	assert(t, errors.Is(err, vm.ErrMemoryBounds), "inactive array want ErrMemoryBounds, got %v", err)
}

func TestResetReclaimsPoolAndZeroesState(t *testing.T) {
	mem, err := vm.NewMemoryContext(4, 2, 4)
	assert(t, err == nil, "NewMemoryContext: %v", err)

	assert(t, mem.StoreGlobal(1, 5) == nil, "StoreGlobal")
	assert(t, mem.CreateArray(0, 4) == nil, "CreateArray")
	assert(t, mem.StoreArray(0, 0, 9) == nil, "StoreArray")
	assert(t, mem.PoolWatermark() == 4, "want watermark 4, got %d", mem.PoolWatermark())

	mem.Reset()
	assert(t, mem.PoolWatermark() == 0, "reset must zero watermark, got %d", mem.PoolWatermark())
	assert(t, mem.GlobalCount() == 0, "reset must zero global_count, got %d", mem.GlobalCount())
	v, ok := mem.LoadGlobal(1)
	assert(t, ok && v == 0, "reset must zero globals, got (%d,%v)", v, ok)

	_, err = mem.LoadArray(0, 0)
	assert(t, errors.Is(err, vm.ErrMemoryBounds), "reset must deactivate arrays, got %v", err)

	// The pool is reusable after reset (not merely reclaimed on paper).
	err = mem.CreateArray(0, 4)
	assert(t, err == nil, "CreateArray after reset: %v", err)
}

func TestRejectedMutationLeavesContextUnchanged(t *testing.T) {
	mem, err := vm.NewMemoryContext(4, 2, 4)
	assert(t, err == nil, "NewMemoryContext: %v", err)
	assert(t, mem.StoreGlobal(0, 11) == nil, "seed StoreGlobal")

	before, _ := mem.LoadGlobal(0)
	beforeCount := mem.GlobalCount()

	err = mem.StoreGlobal(99, 22) // rejected: out of range
	assert(t, err != nil, "expected rejection")

	after, _ := mem.LoadGlobal(0)
	assert(t, before == after && beforeCount == mem.GlobalCount(),
		"rejected mutation must leave context unchanged: before=%d after=%d", before, after)
}
