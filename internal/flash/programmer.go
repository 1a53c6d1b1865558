package flash

import (
	"crypto/sha256"
	"hash/crc32"
)

// Programmer drives the verified flash-programming algorithm of §4.9 against
// a SimulatedDevice. One Programmer instance backs exactly one session; Reset
// must be called before starting the next.
type Programmer struct {
	dev    *SimulatedDevice
	layout Layout

	pageErased bool
	writeAddr  uint32

	staging    []byte // bytes accepted but not yet flushed to the device
	original   []byte // full unpadded accepted stream, for the verification hash
}

// NewProgrammer builds a Programmer targeting layout's designated writable
// page on dev.
func NewProgrammer(dev *SimulatedDevice, layout Layout) *Programmer {
	return &Programmer{dev: dev, layout: layout}
}

// Reset clears all session state, allowing the Programmer to be reused for
// a new session (a fresh session always re-erases; see Prepare).
func (p *Programmer) Reset() {
	p.pageErased = false
	p.writeAddr = 0
	p.staging = nil
	p.original = nil
}

// Prepare erases the full target page on the first FlashProgram(prepare) of
// a session. A second Prepare within the same session is rejected.
func (p *Programmer) Prepare() error {
	if p.pageErased {
		return ErrAlreadyErasedThisSession
	}
	if err := p.dev.Erase(p.layout.TargetAddr, FlashPageSize); err != nil {
		return ErrEraseFailed
	}
	p.pageErased = true
	p.writeAddr = p.layout.TargetAddr
	p.staging = p.staging[:0]
	p.original = p.original[:0]
	return nil
}

// AcceptDataPacket validates offset against the running write position and
// data_crc32 against data, then appends data to the staging buffer, flushing
// full 8-byte quanta to the device as they fill (§3.6/§4.9).
func (p *Programmer) AcceptDataPacket(offset uint32, data []byte, dataCrc32 uint32) error {
	if offset != uint32(len(p.original)) {
		return ErrOffsetMismatch
	}
	if crc32.ChecksumIEEE(data) != dataCrc32 {
		return ErrDataCrcMismatch
	}
	p.original = append(p.original, data...)
	p.staging = append(p.staging, data...)

	for len(p.staging) >= FlashWriteAlign {
		quantum := p.staging[:FlashWriteAlign]
		if err := p.dev.Write(p.writeAddr, quantum); err != nil {
			return ErrWriteFailed
		}
		p.writeAddr += FlashWriteAlign
		p.staging = p.staging[FlashWriteAlign:]
	}
	return nil
}

// Result is the completed FlashProgram(verify) outcome, mapped directly onto
// proto.FlashProgramResp's fields.
type Result struct {
	BytesProgrammed      uint32
	ActualDataLength     uint32
	VerificationHash     [32]byte
	FlashCrc32           uint32
	FlashSample          []byte
	HardwareVerifyPassed bool
}

// Finish pads the staging buffer with 0xFF, writes the final quantum, and
// (if verifyAfterProgram) reads back the programmed region to confirm it
// matches the staged original byte-for-byte.
func (p *Programmer) Finish(verifyAfterProgram bool) (Result, error) {
	if len(p.staging) > 0 {
		padded := make([]byte, FlashWriteAlign)
		copy(padded, p.staging)
		for i := len(p.staging); i < FlashWriteAlign; i++ {
			padded[i] = 0xFF
		}
		if err := p.dev.Write(p.writeAddr, padded); err != nil {
			return Result{}, ErrWriteFailed
		}
		p.writeAddr += FlashWriteAlign
		p.staging = p.staging[:0]
	}

	bytesProgrammed := p.writeAddr - p.layout.TargetAddr
	actualDataLength := uint32(len(p.original))

	region, err := p.dev.Read(p.layout.TargetAddr, bytesProgrammed)
	if err != nil {
		return Result{}, ErrVerifyFailed
	}

	if verifyAfterProgram {
		for i := uint32(0); i < actualDataLength; i++ {
			if region[i] != p.original[i] {
				return Result{}, ErrVerifyFailed
			}
		}
	}

	sampleLen := len(region)
	if sampleLen > 64 {
		sampleLen = 64
	}
	sample := make([]byte, sampleLen)
	copy(sample, region[:sampleLen])

	return Result{
		BytesProgrammed:      bytesProgrammed,
		ActualDataLength:     actualDataLength,
		VerificationHash:     sha256.Sum256(p.original),
		FlashCrc32:           crc32.ChecksumIEEE(region),
		FlashSample:          sample,
		HardwareVerifyPassed: verifyAfterProgram,
	}, nil
}
