package proto

import (
	"hash/crc32"
	"log/slog"
	"time"

	"github.com/cms-pm/cockpit-sub008/internal/diag"
	"github.com/cms-pm/cockpit-sub008/internal/emergency"
	"github.com/cms-pm/cockpit-sub008/internal/flash"
)

// DefaultSessionTimeout is T_SESSION_MS (§6.3).
const DefaultSessionTimeout = 30 * time.Second

// maxChunkSize bounds a single FlashReadResp payload (§4.8).
const maxChunkSize = 256

// State is the session state machine's current position (§4.8 diagram).
type State int

const (
	StateIdle State = iota
	StateAwaitingBranch
	StateFlashProgramming
	StateErrorRecovery
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingBranch:
		return "AwaitingBranch"
	case StateFlashProgramming:
		return "FlashProgramming"
	case StateErrorRecovery:
		return "ErrorRecovery"
	default:
		return "Unknown"
	}
}

// DeviceIdentity is the static device information published by DeviceInfo
// and Handshake responses.
type DeviceIdentity struct {
	Model             string
	BootloaderVersion string
	HardwareRevision  uint8
	UniqueDeviceID    [12]byte
	Capabilities      uint32
}

// Outcome pairs one response with the ResultCode its envelope should carry.
// A single accepted request can produce more than one Outcome (chunked
// FlashRead streams several FlashReadResp frames under one sequence_id).
type Outcome struct {
	Result   ResultCode
	Response Response
}

// Engine is the protocol engine (C8): it owns session state, enforces
// sequence_id monotonicity, validates flash address bounds, and drives the
// flash.Programmer through a program operation.
type Engine struct {
	identity DeviceIdentity
	layout   flash.Layout
	dev      *flash.SimulatedDevice
	prog     *flash.Programmer

	state         State
	lastAccepted  uint32
	haveAccepted  bool
	preErrorState State
	erroredSeq    uint32

	lastProgress time.Time
	now          func() time.Time

	logger *slog.Logger
	emg    *emergency.Manager
}

// NewEngine builds a protocol engine targeting dev through layout, reporting
// identity in Handshake/DeviceInfo responses. A nil logger disables
// diagnostics (equivalent to io.Discard).
func NewEngine(identity DeviceIdentity, layout flash.Layout, dev *flash.SimulatedDevice, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = diag.NewLogger(discardSink{}, "PROTO")
	}
	e := &Engine{
		identity: identity,
		layout:   layout,
		dev:      dev,
		prog:     flash.NewProgrammer(dev, layout),
		state:    StateIdle,
		now:      time.Now,
		logger:   logger,
	}
	// The emergency manager is a process-wide capability by convention
	// (spec "Global mutable state"), but its lifecycle is scoped to this
	// Engine instance. CheckSessionTimeout and fail invoke it, and it acts
	// on the session only through the two injected hooks below.
	e.emg = emergency.NewManager(emergency.DefaultConfig(), func() {
		e.prog.Reset()
	}, func() {
		e.state = StateIdle
	}, logger)
	return e
}

type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }

// State reports the engine's current session state, for tests and CLI status.
func (e *Engine) State() State { return e.state }

// CheckSessionTimeout aborts the current session (back to Idle) if more
// than T_SESSION_MS has elapsed since the last accepted request, mirroring
// §4.8's "times out after T_SESSION_MS without forward progress".
func (e *Engine) CheckSessionTimeout(timeout time.Duration) bool {
	if e.state == StateIdle {
		return false
	}
	if e.now().Sub(e.lastProgress) > timeout {
		// Cleanup/safeState hooks (wired in NewEngine) return the session to
		// Idle and reset the programmer; the recover func just confirms it.
		e.emg.Handle(emergency.ConditionCriticalTimeout, emergency.ActionRestartSession, func(emergency.Action) bool {
			return true
		})
		return true
	}
	return false
}

// HandleRequest validates sequencing, dispatches req against the current
// session state, and returns the ordered outcomes to transmit (more than one
// only for a chunked FlashRead).
func (e *Engine) HandleRequest(seq uint32, req Request) []Outcome {
	diag.MarkFlow(e.logger, "session.go", 0, diag.StageProcessing, seq, "request received")

	// Re-handshaking is accepted from any state and restarts the session
	// cleanly (§8 idempotence property), bypassing the state checks that
	// would otherwise apply mid-operation; handleHandshake still enforces
	// sequence_id monotonicity.
	if hs, ok := req.(HandshakeReq); ok {
		return e.handleHandshake(seq, hs)
	}

	if !e.sequenceAccepted(seq) {
		return e.fail(seq, ResultInvalidRequest, ErrInvalidSequence)
	}

	var outcomes []Outcome
	switch e.state {
	case StateErrorRecovery:
		outcomes = e.dispatchErrorRecovery(seq, req)
	case StateIdle:
		outcomes = e.fail(seq, ResultInvalidRequest, ErrStateInvalid)
	case StateAwaitingBranch:
		outcomes = e.dispatchAwaitingBranch(seq, req)
	case StateFlashProgramming:
		outcomes = e.dispatchFlashProgramming(seq, req)
	default:
		outcomes = e.fail(seq, ResultInvalidRequest, ErrStateInvalid)
	}

	if len(outcomes) > 0 {
		e.acceptSequence(seq)
	}
	return outcomes
}

func (e *Engine) sequenceAccepted(seq uint32) bool {
	if e.state == StateErrorRecovery && e.haveAccepted && seq == e.erroredSeq {
		return true // retry of the failing request, same id (§4.8)
	}
	if !e.haveAccepted {
		return seq > 0
	}
	return seq > e.lastAccepted
}

func (e *Engine) acceptSequence(seq uint32) {
	e.lastAccepted = seq
	e.haveAccepted = true
	e.lastProgress = e.now()
}

func (e *Engine) fail(seq uint32, result ResultCode, err error) []Outcome {
	e.preErrorState = e.state
	e.state = StateErrorRecovery
	e.erroredSeq = seq
	diag.MarkFlow(e.logger, "session.go", 0, diag.StageProcessing, seq, "error: "+err.Error())

	if err == flash.ErrEraseFailed || err == flash.ErrWriteFailed || err == flash.ErrVerifyFailed {
		// A genuine hardware-level flash fault (not a data CRC mismatch,
		// which is recoverable by retransmission) escalates to C11: the
		// host must explicitly drive recovery, so the attempt always
		// reports unrecovered.
		e.emg.Handle(emergency.ConditionFlashCorruption, emergency.ActionFullReset, func(emergency.Action) bool {
			return false
		})
	}

	return []Outcome{{Result: result, Response: ErrorReportResp{
		ErrorCode:        errorCode(err),
		DiagnosticMessage: err.Error(),
		FailedSequenceID: seq,
	}}}
}

func (e *Engine) handleHandshake(seq uint32, req HandshakeReq) []Outcome {
	if !e.sequenceAccepted(seq) {
		return e.fail(seq, ResultInvalidRequest, ErrInvalidSequence)
	}
	e.state = StateAwaitingBranch
	e.prog.Reset()
	e.acceptSequence(seq)
	return []Outcome{{Result: ResultSuccess, Response: HandshakeResp{
		BootloaderVersion:     e.identity.BootloaderVersion,
		SupportedCapabilities: e.identity.Capabilities & req.Capabilities,
		FlashPageSize:         flash.FlashPageSize,
		TargetFlashAddress:    e.layout.TargetAddr,
	}}}
}

func (e *Engine) dispatchAwaitingBranch(seq uint32, req Request) []Outcome {
	switch m := req.(type) {
	case DeviceInfoReq:
		return e.handleDeviceInfo(m)
	case FlashReadReq:
		return e.handleFlashRead(seq, m)
	case FlashProgramReq:
		return e.handleFlashPrepare(seq, m)
	default:
		return e.fail(seq, ResultInvalidRequest, ErrStateInvalid)
	}
}

func (e *Engine) handleDeviceInfo(req DeviceInfoReq) []Outcome {
	blStart, blEnd, hvStart, hvEnd, bcStart, bcEnd := e.layout.Bounds()
	resp := DeviceInfoResp{
		DeviceModel:       e.identity.Model,
		BootloaderVersion: e.identity.BootloaderVersion,
		FlashTotalSize:    e.layout.TotalSize(),
		FlashPageSize:     flash.FlashPageSize,
		Regions: RegionBounds{
			BootloaderStart: blStart, BootloaderEnd: blEnd,
			HypervisorStart: hvStart, HypervisorEnd: hvEnd,
			BytecodeStart: bcStart, BytecodeEnd: bcEnd,
		},
		HardwareRevision: e.identity.HardwareRevision,
	}
	if req.IncludeDeviceID {
		resp.UniqueDeviceID = e.identity.UniqueDeviceID
	}
	e.state = StateIdle // SessionCompleteA1
	return []Outcome{{Result: ResultSuccess, Response: resp}}
}

func (e *Engine) handleFlashRead(seq uint32, req FlashReadReq) []Outcome {
	if req.ChunkSequence != 0 {
		return e.fail(seq, ResultInvalidRequest, ErrInvalidRequest)
	}
	if _, ok := e.layout.RegionOf(req.StartAddress, uint32(req.Length)); !ok {
		if _, startOk := e.layout.RegionOf(req.StartAddress, 0); startOk {
			return e.fail(seq, ResultInvalidRequest, flash.ErrReadLengthInvalid)
		}
		return e.fail(seq, ResultInvalidRequest, flash.ErrReadAddressInvalid)
	}

	var outcomes []Outcome
	remaining := uint32(req.Length)
	addr := req.StartAddress
	chunk := uint16(0)
	for remaining > 0 {
		n := uint32(maxChunkSize)
		if remaining < n {
			n = remaining
		}
		data, err := e.dev.Read(addr, n)
		if err != nil {
			return e.fail(seq, ResultInvalidRequest, flash.ErrReadAddressInvalid)
		}
		resp := FlashReadResp{
			FlashData:     data,
			ActualLength:  uint16(n),
			ReadAddress:   addr,
			ChunkSequence: chunk,
			HasMoreChunks: remaining-n > 0,
		}
		if req.IncludeChecksum {
			resp.DataCrc32 = crc32.ChecksumIEEE(data)
		}
		outcomes = append(outcomes, Outcome{Result: ResultSuccess, Response: resp})
		addr += n
		remaining -= n
		chunk++
	}
	e.state = StateIdle // SessionCompleteA2
	return outcomes
}

func (e *Engine) handleFlashPrepare(seq uint32, req FlashProgramReq) []Outcome {
	if err := e.prog.Prepare(); err != nil {
		return e.fail(seq, ResultFlashOperation, err)
	}
	e.state = StateFlashProgramming
	return []Outcome{{Result: ResultSuccess, Response: AckResp{Success: true, Message: "prepared"}}}
}

func (e *Engine) dispatchFlashProgramming(seq uint32, req Request) []Outcome {
	switch m := req.(type) {
	case DataPacketReq:
		if err := e.prog.AcceptDataPacket(m.Offset, m.Data, m.DataCrc32); err != nil {
			return e.fail(seq, classifyFlashResult(err), err)
		}
		return []Outcome{{Result: ResultSuccess, Response: AckResp{Success: true}}}

	case FlashProgramReq:
		result, err := e.prog.Finish(m.VerifyAfterProgram)
		if err != nil {
			return e.fail(seq, ResultFlashOperation, err)
		}
		e.state = StateIdle // SessionCompleteB
		return []Outcome{{Result: ResultSuccess, Response: FlashProgramResp{
			BytesProgrammed:      result.BytesProgrammed,
			ActualDataLength:     result.ActualDataLength,
			VerificationHash:     result.VerificationHash,
			FlashCrc32:           result.FlashCrc32,
			FlashSample:          result.FlashSample,
			HardwareVerifyPassed: result.HardwareVerifyPassed,
		}}}

	default:
		return e.fail(seq, ResultInvalidRequest, ErrStateInvalid)
	}
}

func (e *Engine) dispatchErrorRecovery(seq uint32, req Request) []Outcome {
	rec, ok := req.(ErrorRecoveryReq)
	if !ok {
		// A retried original request reuses erroredSeq and is handled by
		// falling back into whatever state preceded the error.
		e.state = e.preErrorState
		switch e.state {
		case StateAwaitingBranch:
			return e.dispatchAwaitingBranch(seq, req)
		case StateFlashProgramming:
			return e.dispatchFlashProgramming(seq, req)
		default:
			return e.fail(seq, ResultInvalidRequest, ErrStateInvalid)
		}
	}

	switch rec.Action {
	case RecoveryAbortAndReset:
		e.state = StateIdle
		e.prog.Reset()
	case RecoveryClearErrorState:
		e.state = StateIdle
	case RecoveryRetryLastOperation:
		e.state = e.preErrorState
	}
	return []Outcome{{Result: ResultSuccess, Response: AckResp{Success: true, Message: "recovered"}}}
}

func errorCode(err error) uint16 {
	switch err {
	case ErrInvalidSequence:
		return 1
	case ErrStateInvalid:
		return 2
	case ErrInvalidRequest:
		return 3
	case flash.ErrReadAddressInvalid:
		return 4
	case flash.ErrReadLengthInvalid:
		return 5
	case flash.ErrDataCrcMismatch:
		return 6
	case flash.ErrEraseFailed, flash.ErrAlreadyErasedThisSession:
		return 7
	case flash.ErrWriteFailed:
		return 8
	case flash.ErrVerifyFailed:
		return 9
	case flash.ErrOffsetMismatch:
		return 10
	default:
		return 0xFFFF
	}
}

func classifyFlashResult(err error) ResultCode {
	switch err {
	case flash.ErrDataCrcMismatch:
		return ResultDataCorruption
	case flash.ErrOffsetMismatch:
		return ResultInvalidRequest
	default:
		return ResultFlashOperation
	}
}
