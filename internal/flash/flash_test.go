package flash_test

import (
	"hash/crc32"
	"testing"

	"github.com/cms-pm/cockpit-sub008/internal/flash"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestLayoutRegionOfRejectsUnion(t *testing.T) {
	l := flash.DefaultLayout()
	_, blEnd, _, hvEnd, bcStart, _ := l.Bounds()

	region, ok := l.RegionOf(0, blEnd)
	assert(t, ok && region == flash.RegionBootloader, "expected bootloader region, got %v/%v", region, ok)

	// A range spanning bootloader into hypervisor must be rejected (§4.8:
	// "the union is not permitted within a single request").
	_, ok = l.RegionOf(blEnd-1, 2)
	assert(t, !ok, "range spanning two regions must not resolve to a single region")

	_, ok = l.RegionOf(hvEnd-1, 2)
	assert(t, !ok, "range spanning hypervisor/bytecode boundary must not resolve")

	region, ok = l.RegionOf(bcStart, 10)
	assert(t, ok && region == flash.RegionBytecode, "expected bytecode region, got %v/%v", region, ok)
}

// §8: FlashRead with start_address in bytecode region and
// start_address+length-1 one byte past the region must fail.
func TestLayoutRegionOfRejectsOneByteOverrun(t *testing.T) {
	l := flash.DefaultLayout()
	_, _, _, _, bcStart, bcEnd := l.Bounds()
	length := (bcEnd - bcStart) + 1
	_, ok := l.RegionOf(bcStart, length)
	assert(t, !ok, "one-byte overrun past bytecode region must be rejected")
}

func TestProgrammerHappyPath(t *testing.T) {
	// §8 scenario 5: total=2000, writes land, verify passes, actual length
	// matches, bytes_programmed is the next multiple of 8.
	layout := flash.DefaultLayout()
	dev := flash.NewSimulatedDevice(layout.TotalSize())
	p := flash.NewProgrammer(dev, layout)

	assert(t, p.Prepare() == nil, "Prepare")

	data := make([]byte, 2000)
	for i := range data {
		data[i] = byte(i)
	}
	const chunk = 256
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		piece := data[off:end]
		err := p.AcceptDataPacket(uint32(off), piece, crc32.ChecksumIEEE(piece))
		assert(t, err == nil, "AcceptDataPacket at %d: %v", off, err)
	}

	result, err := p.Finish(true)
	assert(t, err == nil, "Finish: %v", err)
	assert(t, result.ActualDataLength == 2000, "want actual_data_length=2000, got %d", result.ActualDataLength)
	assert(t, result.BytesProgrammed == 2000, "want bytes_programmed=2000 (already 8-aligned), got %d", result.BytesProgrammed)
	assert(t, result.HardwareVerifyPassed, "want hardware_verify_passed=true")
	assert(t, len(result.FlashSample) == 64, "want flash_sample len 64, got %d", len(result.FlashSample))
}

func TestProgrammerPadsUnalignedTail(t *testing.T) {
	layout := flash.DefaultLayout()
	dev := flash.NewSimulatedDevice(layout.TotalSize())
	p := flash.NewProgrammer(dev, layout)
	assert(t, p.Prepare() == nil, "Prepare")

	data := make([]byte, 11) // not a multiple of FlashWriteAlign (8)
	err := p.AcceptDataPacket(0, data, crc32.ChecksumIEEE(data))
	assert(t, err == nil, "AcceptDataPacket: %v", err)

	result, err := p.Finish(false)
	assert(t, err == nil, "Finish: %v", err)
	assert(t, result.ActualDataLength == 11, "want actual_data_length=11, got %d", result.ActualDataLength)
	assert(t, result.BytesProgrammed == 16, "want bytes_programmed padded to 16, got %d", result.BytesProgrammed)
}

func TestProgrammerRejectsDoubleErase(t *testing.T) {
	layout := flash.DefaultLayout()
	dev := flash.NewSimulatedDevice(layout.TotalSize())
	p := flash.NewProgrammer(dev, layout)
	assert(t, p.Prepare() == nil, "first Prepare")
	err := p.Prepare()
	assert(t, err == flash.ErrAlreadyErasedThisSession, "want ErrAlreadyErasedThisSession, got %v", err)
}

func TestProgrammerRejectsBadDataCrc(t *testing.T) {
	layout := flash.DefaultLayout()
	dev := flash.NewSimulatedDevice(layout.TotalSize())
	p := flash.NewProgrammer(dev, layout)
	assert(t, p.Prepare() == nil, "Prepare")
	err := p.AcceptDataPacket(0, []byte{1, 2, 3}, 0xDEADBEEF)
	assert(t, err == flash.ErrDataCrcMismatch, "want ErrDataCrcMismatch, got %v", err)
}

func TestProgrammerRejectsOffsetMismatch(t *testing.T) {
	layout := flash.DefaultLayout()
	dev := flash.NewSimulatedDevice(layout.TotalSize())
	p := flash.NewProgrammer(dev, layout)
	assert(t, p.Prepare() == nil, "Prepare")

	first := []byte{1, 2, 3, 4}
	assert(t, p.AcceptDataPacket(0, first, crc32.ChecksumIEEE(first)) == nil, "first packet at offset 0")

	second := []byte{5, 6, 7, 8}
	err := p.AcceptDataPacket(99, second, crc32.ChecksumIEEE(second))
	assert(t, err == flash.ErrOffsetMismatch, "want ErrOffsetMismatch, got %v", err)
}

func TestProgrammerResetAllowsNewSession(t *testing.T) {
	layout := flash.DefaultLayout()
	dev := flash.NewSimulatedDevice(layout.TotalSize())
	p := flash.NewProgrammer(dev, layout)
	assert(t, p.Prepare() == nil, "Prepare")
	_, err := p.Finish(false)
	assert(t, err == nil, "Finish: %v", err)

	p.Reset()
	err = p.Prepare()
	assert(t, err == nil, "Prepare after Reset: %v", err)
}

func TestSimulatedDeviceEraseThenReadIs0xFF(t *testing.T) {
	dev := flash.NewSimulatedDevice(256)
	assert(t, dev.Erase(0, 16) == nil, "Erase")
	data, err := dev.Read(0, 16)
	assert(t, err == nil, "Read: %v", err)
	for i, b := range data {
		assert(t, b == 0xFF, "byte %d: want 0xFF, got 0x%02X", i, b)
	}
}

func TestSimulatedDeviceWriteCannotSetBitsWithoutErase(t *testing.T) {
	dev := flash.NewSimulatedDevice(16)
	assert(t, dev.Erase(0, 16) == nil, "Erase")
	assert(t, dev.Write(0, []byte{0x0F}) == nil, "Write 0x0F")
	assert(t, dev.Write(0, []byte{0xFF}) == nil, "Write 0xFF (cannot set cleared bits)")
	data, _ := dev.Read(0, 1)
	assert(t, data[0] == 0x0F, "want 0x0F (bits stay cleared until erase), got 0x%02X", data[0])
}
