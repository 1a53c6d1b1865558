package flash

import "errors"

// Flash error kinds (spec §7).
var (
	ErrEraseFailed              = errors.New("flash erase failed")
	ErrWriteFailed              = errors.New("flash write failed")
	ErrVerifyFailed             = errors.New("flash verify failed")
	ErrReadAddressInvalid       = errors.New("flash read address invalid")
	ErrReadLengthInvalid        = errors.New("flash read length invalid")
	ErrDataCrcMismatch          = errors.New("flash data crc mismatch")
	ErrAlreadyErasedThisSession = errors.New("flash page already erased this session")
	ErrOffsetMismatch           = errors.New("flash data packet offset does not match write position")
)
