package main

import (
	"errors"

	"github.com/cms-pm/cockpit-sub008/internal/flash"
	"github.com/cms-pm/cockpit-sub008/internal/proto"
)

var errTimeout = errors.New("cockpitbootctl: response timeout")

// Exit codes (§6.5).
const (
	exitSuccess        = 0
	exitProtocolError  = 1
	exitCrcError       = 2
	exitFlashError     = 3
	exitTimeout        = 4
	exitBoundsError    = 5
)

// exitCodeFor classifies a command failure into one of §6.5's exit codes.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, errTimeout):
		return exitTimeout
	case errors.Is(err, flash.ErrDataCrcMismatch):
		return exitCrcError
	case errors.Is(err, flash.ErrReadAddressInvalid), errors.Is(err, flash.ErrReadLengthInvalid):
		return exitBoundsError
	case errors.Is(err, flash.ErrEraseFailed), errors.Is(err, flash.ErrWriteFailed),
		errors.Is(err, flash.ErrVerifyFailed), errors.Is(err, flash.ErrAlreadyErasedThisSession):
		return exitFlashError
	case errors.Is(err, proto.ErrDecode), errors.Is(err, proto.ErrInvalidSequence), errors.Is(err, proto.ErrStateInvalid):
		return exitProtocolError
	default:
		return exitProtocolError
	}
}

// errorReportErr turns a device-reported ErrorReportResp into a classifiable
// Go error so exitCodeFor can map it the same way it maps local errors.
func errorReportErr(resp proto.ErrorReportResp) error {
	switch resp.ErrorCode {
	case 4:
		return flash.ErrReadAddressInvalid
	case 5:
		return flash.ErrReadLengthInvalid
	case 6:
		return flash.ErrDataCrcMismatch
	case 7:
		return flash.ErrEraseFailed
	case 8:
		return flash.ErrWriteFailed
	case 9:
		return flash.ErrVerifyFailed
	default:
		return errors.New(resp.DiagnosticMessage)
	}
}
