package vm

import "fmt"

// Compile-time maxima a MemoryContext's three size parameters are validated
// against (§3.3, §4.2). These mirror the teacher's numRegisters/stackSize
// constant block, generalized into per-domain limits.
const (
	MaxGlobals    = 256 // G_MAX
	MaxArrays     = 64  // A_MAX
	MaxArrayElems = 256 // E_MAX

	// maxPoolSlots bounds the pooled backing array's total size: aSize*aElems
	// must fit within MaxArrays*MaxArrayElems even though each factor alone is
	// within its own per-parameter maximum (§4.2).
	maxPoolSlots = MaxArrays * MaxArrayElems
)

// arrayDescriptor is the pooled-array metadata of §3.3: offset/length into
// array_pool plus an active flag.
type arrayDescriptor struct {
	offset int
	length int
	active bool
}

// MemoryContext is the statically sized per-VM-instance storage: globals and
// a single pooled backing array for all dynamically "allocated" arrays.
// A ComponentVM owns exactly one MemoryContext; it is never shared between
// engines (§9 "Ownership of MemoryContext").
type MemoryContext struct {
	gSize, aSize, aElems int

	globals     []int32
	arrayPool   []int32
	descriptors []arrayDescriptor

	globalCount   int
	poolWatermark int
}

// NewMemoryContext is the validating factory of §4.2: it rejects a zero or
// over-maximum parameter with ErrConfig, and zero-initializes all storage.
func NewMemoryContext(gSize, aSize, aElems int) (*MemoryContext, error) {
	if gSize <= 0 || gSize > MaxGlobals {
		return nil, fmt.Errorf("%w: globals size %d out of [1,%d]", ErrConfig, gSize, MaxGlobals)
	}
	if aSize <= 0 || aSize > MaxArrays {
		return nil, fmt.Errorf("%w: array count %d out of [1,%d]", ErrConfig, aSize, MaxArrays)
	}
	if aElems <= 0 || aElems > MaxArrayElems {
		return nil, fmt.Errorf("%w: array element cap %d out of [1,%d]", ErrConfig, aElems, MaxArrayElems)
	}
	if aSize*aElems > maxPoolSlots {
		return nil, fmt.Errorf("%w: array pool %d*%d exceeds max pool slots %d", ErrConfig, aSize, aElems, maxPoolSlots)
	}

	ctx := &MemoryContext{
		gSize:       gSize,
		aSize:       aSize,
		aElems:      aElems,
		globals:     make([]int32, gSize),
		arrayPool:   make([]int32, aSize*aElems),
		descriptors: make([]arrayDescriptor, aSize),
	}
	return ctx, nil
}

// Reset zeroes globals, zeroes active array slots, clears descriptors, and
// zeros the watermark. It is the only way to reclaim pool space; the pool is
// never compacted within a session (§4.2 edge policy).
func (m *MemoryContext) Reset() {
	for i := range m.globals {
		m.globals[i] = 0
	}
	for id, d := range m.descriptors {
		if d.active {
			for i := d.offset; i < d.offset+d.length; i++ {
				m.arrayPool[i] = 0
			}
		}
		m.descriptors[id] = arrayDescriptor{}
	}
	m.globalCount = 0
	m.poolWatermark = 0
}

// Zero wipes every slot unconditionally, independent of active-array
// bookkeeping, so no residual user data survives once it has run (§3.3
// security property). Neither Reset nor the Engine calls it.
func (m *MemoryContext) Zero() {
	for i := range m.globals {
		m.globals[i] = 0
	}
	for i := range m.arrayPool {
		m.arrayPool[i] = 0
	}
	for i := range m.descriptors {
		m.descriptors[i] = arrayDescriptor{}
	}
	m.globalCount = 0
	m.poolWatermark = 0
}

// LoadGlobal returns (value, true), or (0, false) when id is out of range.
func (m *MemoryContext) LoadGlobal(id int) (int32, bool) {
	if id < 0 || id >= m.gSize {
		return 0, false
	}
	return m.globals[id], true
}

// StoreGlobal fails with ErrMemoryBounds when id is out of range; otherwise
// it updates global_count to max(global_count, id+1) for diagnostics.
func (m *MemoryContext) StoreGlobal(id int, v int32) error {
	if id < 0 || id >= m.gSize {
		return fmt.Errorf("%w: global %d", ErrMemoryBounds, id)
	}
	m.globals[id] = v
	if id+1 > m.globalCount {
		m.globalCount = id + 1
	}
	return nil
}

// CreateArray allocates len contiguous pool slots for array id. It fails
// with ErrMemoryBounds for an out-of-range id, a zero or over-E_MAX length,
// a pool overflow, or double-allocation of an already-active id (§4.2).
func (m *MemoryContext) CreateArray(id, length int) error {
	if id < 0 || id >= m.aSize {
		return fmt.Errorf("%w: array id %d", ErrMemoryBounds, id)
	}
	if length <= 0 || length > m.aElems {
		return fmt.Errorf("%w: array length %d out of [1,%d]", ErrMemoryBounds, length, m.aElems)
	}
	if m.descriptors[id].active {
		return fmt.Errorf("%w: array %d already allocated", ErrMemoryBounds, id)
	}
	if m.poolWatermark+length > len(m.arrayPool) {
		return fmt.Errorf("%w: array pool exhausted", ErrMemoryBounds)
	}

	m.descriptors[id] = arrayDescriptor{
		offset: m.poolWatermark,
		length: length,
		active: true,
	}
	m.poolWatermark += length
	return nil
}

// LoadArray fails with ErrMemoryBounds when the array is inactive or idx is
// out of range.
func (m *MemoryContext) LoadArray(id, idx int) (int32, error) {
	d, err := m.activeDescriptor(id)
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= d.length {
		return 0, fmt.Errorf("%w: array %d index %d out of [0,%d)", ErrMemoryBounds, id, idx, d.length)
	}
	return m.arrayPool[d.offset+idx], nil
}

// StoreArray fails with ErrMemoryBounds under the same conditions as
// LoadArray.
func (m *MemoryContext) StoreArray(id, idx int, v int32) error {
	d, err := m.activeDescriptor(id)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= d.length {
		return fmt.Errorf("%w: array %d index %d out of [0,%d)", ErrMemoryBounds, id, idx, d.length)
	}
	m.arrayPool[d.offset+idx] = v
	return nil
}

func (m *MemoryContext) activeDescriptor(id int) (arrayDescriptor, error) {
	if id < 0 || id >= m.aSize {
		return arrayDescriptor{}, fmt.Errorf("%w: array id %d", ErrMemoryBounds, id)
	}
	d := m.descriptors[id]
	if !d.active {
		return arrayDescriptor{}, fmt.Errorf("%w: array %d not allocated", ErrMemoryBounds, id)
	}
	return d, nil
}

// GlobalCount reports the highest-used global + 1, for diagnostics only.
func (m *MemoryContext) GlobalCount() int { return m.globalCount }

// PoolWatermark reports how many pool slots have been handed out. Monotonic
// within a context's lifetime until Reset.
func (m *MemoryContext) PoolWatermark() int { return m.poolWatermark }

// GlobalCapacity, ArrayCapacity and ArrayElemCapacity expose the validated
// construction parameters.
func (m *MemoryContext) GlobalCapacity() int { return m.gSize }
func (m *MemoryContext) ArrayCapacity() int  { return m.aSize }
func (m *MemoryContext) ArrayElemCapacity() int { return m.aElems }
