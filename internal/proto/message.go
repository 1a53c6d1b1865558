// Package proto implements Core B's message codec (C7) and protocol engine
// (C8): tagged-union request/response messages riding inside frame payloads,
// and the session state machine that drives device identification, flash
// readback, and verified flash programming.
package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Decode/encode errors (§7).
var (
	ErrDecode       = errors.New("message decode error")
	ErrFieldTooLarge = errors.New("message field exceeds wire limit")
)

// ResultCode is the outer status carried by every response envelope (§3.6).
type ResultCode uint8

const (
	ResultSuccess ResultCode = iota
	ResultCommunication
	ResultFlashOperation
	ResultDataCorruption
	ResultResourceExhaustion
	ResultInvalidRequest
)

func (r ResultCode) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultCommunication:
		return "Communication"
	case ResultFlashOperation:
		return "FlashOperation"
	case ResultDataCorruption:
		return "DataCorruption"
	case ResultResourceExhaustion:
		return "ResourceExhaustion"
	case ResultInvalidRequest:
		return "InvalidRequest"
	default:
		return fmt.Sprintf("ResultCode(%d)", uint8(r))
	}
}

// Request tag bytes. field 1 ("reserved") is never assigned a tag; decode
// ignores it and encode never writes it, per §4.7.
const (
	tagHandshake     = 0x01
	tagDataPacket    = 0x02
	tagFlashProgram  = 0x03
	tagErrorRecovery = 0x04
	tagFlashRead     = 0x05
	tagDeviceInfo    = 0x06
)

// Response tag bytes.
const (
	tagHandshakeResp    = 0x81
	tagAck              = 0x82
	tagFlashProgramResp = 0x83
	tagFlashReadResp    = 0x84
	tagDeviceInfoResp   = 0x85
	tagErrorReport      = 0x86
)

// RecoveryAction enumerates the ErrorRecovery request's action field (§4.8).
type RecoveryAction uint8

const (
	RecoveryRetryLastOperation RecoveryAction = iota
	RecoveryAbortAndReset
	RecoveryClearErrorState
)

// Request is the tagged-union of host->device messages.
type Request interface {
	requestTag() byte
}

type HandshakeReq struct {
	Capabilities  uint32
	MaxPacketSize uint16
}

type DataPacketReq struct {
	Offset   uint32
	Data     []byte
	DataCrc32 uint32
}

type FlashProgramReq struct {
	TotalLength         uint32
	VerifyAfterProgram  bool
}

type ErrorRecoveryReq struct {
	Action RecoveryAction
}

type FlashReadReq struct {
	StartAddress    uint32
	Length          uint16
	ChunkSequence   uint16
	IncludeChecksum bool
}

type DeviceInfoReq struct {
	IncludeMemoryLayout bool
	IncludeDeviceID     bool
}

func (HandshakeReq) requestTag() byte     { return tagHandshake }
func (DataPacketReq) requestTag() byte    { return tagDataPacket }
func (FlashProgramReq) requestTag() byte  { return tagFlashProgram }
func (ErrorRecoveryReq) requestTag() byte { return tagErrorRecovery }
func (FlashReadReq) requestTag() byte     { return tagFlashRead }
func (DeviceInfoReq) requestTag() byte    { return tagDeviceInfo }

// Response is the tagged-union of device->host messages.
type Response interface {
	responseTag() byte
}

type HandshakeResp struct {
	BootloaderVersion    string
	SupportedCapabilities uint32
	FlashPageSize        uint32
	TargetFlashAddress   uint32
}

type AckResp struct {
	Success bool
	Message string
}

type FlashProgramResp struct {
	BytesProgrammed     uint32
	ActualDataLength    uint32
	VerificationHash    [32]byte
	FlashCrc32          uint32
	FlashSample         []byte
	HardwareVerifyPassed bool
}

type FlashReadResp struct {
	FlashData     []byte
	ActualLength  uint16
	DataCrc32     uint32
	ReadAddress   uint32
	ChunkSequence uint16
	HasMoreChunks bool
}

type RegionBounds struct {
	BootloaderStart, BootloaderEnd uint32
	HypervisorStart, HypervisorEnd uint32
	BytecodeStart, BytecodeEnd     uint32
}

type DeviceInfoResp struct {
	DeviceModel       string
	BootloaderVersion string
	FlashTotalSize    uint32
	FlashPageSize     uint32
	Regions           RegionBounds
	UniqueDeviceID    [12]byte
	HardwareRevision  uint8
}

type ErrorReportResp struct {
	ErrorCode         uint16
	DiagnosticMessage string
	FailedSequenceID  uint32
}

func (HandshakeResp) responseTag() byte    { return tagHandshakeResp }
func (AckResp) responseTag() byte          { return tagAck }
func (FlashProgramResp) responseTag() byte { return tagFlashProgramResp }
func (FlashReadResp) responseTag() byte    { return tagFlashReadResp }
func (DeviceInfoResp) responseTag() byte   { return tagDeviceInfoResp }
func (ErrorReportResp) responseTag() byte  { return tagErrorReport }

// --- wire primitives -------------------------------------------------------

type writer struct{ buf []byte }

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) bytes8(b []byte) error {
	if len(b) > 255 {
		return ErrFieldTooLarge
	}
	w.u8(uint8(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

func (w *writer) bytes16(b []byte) error {
	if len(b) > 65535 {
		return ErrFieldTooLarge
	}
	w.u16(uint16(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

func (w *writer) str8(s string) error { return w.bytes8([]byte(s)) }

func (w *writer) fixed(b []byte) { w.buf = append(w.buf, b...) }

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, ErrDecode
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrDecode
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrDecode
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) boolean() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *reader) bytes8() ([]byte, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *reader) bytes16() ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *reader) str8() (string, error) {
	b, err := r.bytes8()
	return string(b), err
}

func (r *reader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrDecode
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *reader) fixed(n int) ([]byte, error) { return r.take(n) }

// --- envelope encode/decode -------------------------------------------------

// EncodeRequest builds the frame-payload bytes for a (sequence_id, Request)
// pair: seq(u32 BE) || tag(u8) || fields.
func EncodeRequest(seq uint32, req Request) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 16)}
	w.u32(seq)
	w.u8(req.requestTag())

	var err error
	switch m := req.(type) {
	case HandshakeReq:
		w.u32(m.Capabilities)
		w.u16(m.MaxPacketSize)
	case DataPacketReq:
		w.u32(m.Offset)
		err = w.bytes16(m.Data)
		w.u32(m.DataCrc32)
	case FlashProgramReq:
		w.u32(m.TotalLength)
		w.bool(m.VerifyAfterProgram)
	case ErrorRecoveryReq:
		w.u8(uint8(m.Action))
	case FlashReadReq:
		w.u32(m.StartAddress)
		w.u16(m.Length)
		w.u16(m.ChunkSequence)
		w.bool(m.IncludeChecksum)
	case DeviceInfoReq:
		w.bool(m.IncludeMemoryLayout)
		w.bool(m.IncludeDeviceID)
	default:
		return nil, fmt.Errorf("%w: unknown request type %T", ErrDecode, req)
	}
	if err != nil {
		return nil, err
	}
	return w.buf, nil
}

// DecodeRequest parses a frame payload into (sequence_id, Request).
func DecodeRequest(payload []byte) (uint32, Request, error) {
	r := &reader{buf: payload}
	seq, err := r.u32()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: envelope sequence_id: %v", ErrDecode, err)
	}
	tag, err := r.u8()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: envelope tag: %v", ErrDecode, err)
	}

	switch tag {
	case tagHandshake:
		caps, err := r.u32()
		if err != nil {
			return 0, nil, err
		}
		mps, err := r.u16()
		if err != nil {
			return 0, nil, err
		}
		return seq, HandshakeReq{Capabilities: caps, MaxPacketSize: mps}, nil

	case tagDataPacket:
		off, err := r.u32()
		if err != nil {
			return 0, nil, err
		}
		data, err := r.bytes16()
		if err != nil {
			return 0, nil, err
		}
		crc, err := r.u32()
		if err != nil {
			return 0, nil, err
		}
		return seq, DataPacketReq{Offset: off, Data: data, DataCrc32: crc}, nil

	case tagFlashProgram:
		total, err := r.u32()
		if err != nil {
			return 0, nil, err
		}
		verify, err := r.boolean()
		if err != nil {
			return 0, nil, err
		}
		return seq, FlashProgramReq{TotalLength: total, VerifyAfterProgram: verify}, nil

	case tagErrorRecovery:
		action, err := r.u8()
		if err != nil {
			return 0, nil, err
		}
		return seq, ErrorRecoveryReq{Action: RecoveryAction(action)}, nil

	case tagFlashRead:
		addr, err := r.u32()
		if err != nil {
			return 0, nil, err
		}
		length, err := r.u16()
		if err != nil {
			return 0, nil, err
		}
		chunk, err := r.u16()
		if err != nil {
			return 0, nil, err
		}
		checksum, err := r.boolean()
		if err != nil {
			return 0, nil, err
		}
		return seq, FlashReadReq{StartAddress: addr, Length: length, ChunkSequence: chunk, IncludeChecksum: checksum}, nil

	case tagDeviceInfo:
		layout, err := r.boolean()
		if err != nil {
			return 0, nil, err
		}
		id, err := r.boolean()
		if err != nil {
			return 0, nil, err
		}
		return seq, DeviceInfoReq{IncludeMemoryLayout: layout, IncludeDeviceID: id}, nil

	default:
		return 0, nil, fmt.Errorf("%w: unknown request tag 0x%02X", ErrDecode, tag)
	}
}

// EncodeResponse builds the frame-payload bytes for a (sequence_id,
// ResultCode, Response) triple: seq(u32 BE) || result(u8) || tag(u8) || fields.
func EncodeResponse(seq uint32, result ResultCode, resp Response) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 16)}
	w.u32(seq)
	w.u8(uint8(result))
	w.u8(resp.responseTag())

	var err error
	switch m := resp.(type) {
	case HandshakeResp:
		err = w.str8(m.BootloaderVersion)
		w.u32(m.SupportedCapabilities)
		w.u32(m.FlashPageSize)
		w.u32(m.TargetFlashAddress)
	case AckResp:
		w.bool(m.Success)
		err = w.str8(m.Message)
	case FlashProgramResp:
		w.u32(m.BytesProgrammed)
		w.u32(m.ActualDataLength)
		w.fixed(m.VerificationHash[:])
		w.u32(m.FlashCrc32)
		if err = w.bytes8(m.FlashSample); err == nil {
			w.bool(m.HardwareVerifyPassed)
		}
	case FlashReadResp:
		if err = w.bytes16(m.FlashData); err == nil {
			w.u16(m.ActualLength)
			w.u32(m.DataCrc32)
			w.u32(m.ReadAddress)
			w.u16(m.ChunkSequence)
			w.bool(m.HasMoreChunks)
		}
	case DeviceInfoResp:
		if err = w.str8(m.DeviceModel); err == nil {
			if err = w.str8(m.BootloaderVersion); err == nil {
				w.u32(m.FlashTotalSize)
				w.u32(m.FlashPageSize)
				w.u32(m.Regions.BootloaderStart)
				w.u32(m.Regions.BootloaderEnd)
				w.u32(m.Regions.HypervisorStart)
				w.u32(m.Regions.HypervisorEnd)
				w.u32(m.Regions.BytecodeStart)
				w.u32(m.Regions.BytecodeEnd)
				w.fixed(m.UniqueDeviceID[:])
				w.u8(m.HardwareRevision)
			}
		}
	case ErrorReportResp:
		w.u16(m.ErrorCode)
		if err = w.str8(m.DiagnosticMessage); err == nil {
			w.u32(m.FailedSequenceID)
		}
	default:
		return nil, fmt.Errorf("%w: unknown response type %T", ErrDecode, resp)
	}
	if err != nil {
		return nil, err
	}
	return w.buf, nil
}

// DecodeResponse parses a frame payload into (sequence_id, ResultCode, Response).
func DecodeResponse(payload []byte) (uint32, ResultCode, Response, error) {
	r := &reader{buf: payload}
	seq, err := r.u32()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: envelope sequence_id: %v", ErrDecode, err)
	}
	resultByte, err := r.u8()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: envelope result: %v", ErrDecode, err)
	}
	result := ResultCode(resultByte)
	tag, err := r.u8()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: envelope tag: %v", ErrDecode, err)
	}

	switch tag {
	case tagHandshakeResp:
		ver, err := r.str8()
		if err != nil {
			return 0, 0, nil, err
		}
		caps, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		page, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		addr, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		return seq, result, HandshakeResp{BootloaderVersion: ver, SupportedCapabilities: caps, FlashPageSize: page, TargetFlashAddress: addr}, nil

	case tagAck:
		ok, err := r.boolean()
		if err != nil {
			return 0, 0, nil, err
		}
		msg, err := r.str8()
		if err != nil {
			return 0, 0, nil, err
		}
		return seq, result, AckResp{Success: ok, Message: msg}, nil

	case tagFlashProgramResp:
		bytesProgrammed, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		actual, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		hash, err := r.fixed(32)
		if err != nil {
			return 0, 0, nil, err
		}
		crc, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		sample, err := r.bytes8()
		if err != nil {
			return 0, 0, nil, err
		}
		passed, err := r.boolean()
		if err != nil {
			return 0, 0, nil, err
		}
		var hashArr [32]byte
		copy(hashArr[:], hash)
		return seq, result, FlashProgramResp{
			BytesProgrammed: bytesProgrammed, ActualDataLength: actual,
			VerificationHash: hashArr, FlashCrc32: crc, FlashSample: sample,
			HardwareVerifyPassed: passed,
		}, nil

	case tagFlashReadResp:
		data, err := r.bytes16()
		if err != nil {
			return 0, 0, nil, err
		}
		actual, err := r.u16()
		if err != nil {
			return 0, 0, nil, err
		}
		crc, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		addr, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		chunk, err := r.u16()
		if err != nil {
			return 0, 0, nil, err
		}
		more, err := r.boolean()
		if err != nil {
			return 0, 0, nil, err
		}
		return seq, result, FlashReadResp{
			FlashData: data, ActualLength: actual, DataCrc32: crc,
			ReadAddress: addr, ChunkSequence: chunk, HasMoreChunks: more,
		}, nil

	case tagDeviceInfoResp:
		model, err := r.str8()
		if err != nil {
			return 0, 0, nil, err
		}
		ver, err := r.str8()
		if err != nil {
			return 0, 0, nil, err
		}
		total, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		page, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		var regions RegionBounds
		for _, dst := range []*uint32{
			&regions.BootloaderStart, &regions.BootloaderEnd,
			&regions.HypervisorStart, &regions.HypervisorEnd,
			&regions.BytecodeStart, &regions.BytecodeEnd,
		} {
			v, err := r.u32()
			if err != nil {
				return 0, 0, nil, err
			}
			*dst = v
		}
		id, err := r.fixed(12)
		if err != nil {
			return 0, 0, nil, err
		}
		rev, err := r.u8()
		if err != nil {
			return 0, 0, nil, err
		}
		var idArr [12]byte
		copy(idArr[:], id)
		return seq, result, DeviceInfoResp{
			DeviceModel: model, BootloaderVersion: ver, FlashTotalSize: total,
			FlashPageSize: page, Regions: regions, UniqueDeviceID: idArr,
			HardwareRevision: rev,
		}, nil

	case tagErrorReport:
		code, err := r.u16()
		if err != nil {
			return 0, 0, nil, err
		}
		msg, err := r.str8()
		if err != nil {
			return 0, 0, nil, err
		}
		failedSeq, err := r.u32()
		if err != nil {
			return 0, 0, nil, err
		}
		return seq, result, ErrorReportResp{ErrorCode: code, DiagnosticMessage: msg, FailedSequenceID: failedSeq}, nil

	default:
		return 0, 0, nil, fmt.Errorf("%w: unknown response tag 0x%02X", ErrDecode, tag)
	}
}
