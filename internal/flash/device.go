package flash

// SimulatedDevice stands in for the chip HAL: a flat byte array with
// erase/write/read semantics close enough to real NOR flash to exercise the
// programmer's alignment and verification logic (erased bytes read as 0xFF,
// writes may only clear bits, never set them, until the next erase).
type SimulatedDevice struct {
	mem []byte
}

// NewSimulatedDevice allocates a device of the given total size, entirely
// erased (all 0xFF) as a fresh chip would be.
func NewSimulatedDevice(size uint32) *SimulatedDevice {
	d := &SimulatedDevice{mem: make([]byte, size)}
	for i := range d.mem {
		d.mem[i] = 0xFF
	}
	return d
}

// Erase sets [addr, addr+length) to 0xFF.
func (d *SimulatedDevice) Erase(addr, length uint32) error {
	if !d.inBounds(addr, length) {
		return ErrEraseFailed
	}
	for i := addr; i < addr+length; i++ {
		d.mem[i] = 0xFF
	}
	return nil
}

// Write programs [addr, addr+len(data)) by ANDing in data, matching real
// NOR flash: a write can only clear bits that were set, never set a bit an
// earlier write already cleared without an intervening erase.
func (d *SimulatedDevice) Write(addr uint32, data []byte) error {
	if !d.inBounds(addr, uint32(len(data))) {
		return ErrWriteFailed
	}
	for i, b := range data {
		d.mem[addr+uint32(i)] &= b
	}
	return nil
}

// Read copies length bytes starting at addr.
func (d *SimulatedDevice) Read(addr, length uint32) ([]byte, error) {
	if !d.inBounds(addr, length) {
		return nil, ErrReadAddressInvalid
	}
	out := make([]byte, length)
	copy(out, d.mem[addr:addr+length])
	return out, nil
}

func (d *SimulatedDevice) inBounds(addr, length uint32) bool {
	end := uint64(addr) + uint64(length)
	return end <= uint64(len(d.mem))
}

// Size returns the total simulated device capacity.
func (d *SimulatedDevice) Size() uint32 { return uint32(len(d.mem)) }
