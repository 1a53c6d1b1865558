// Package transport provides the blocking, frame-oriented channel the
// bootloader protocol rides on (§6.3: "blocking serial, 8-N-1"). It is
// deliberately abstracted over io.Reader/io.Writer so the same
// frame.Parser-driven pump works over a real serial port or an in-process
// pipe used by tests and the CLI's bundled demo server.
package transport

import (
	"io"
	"time"

	"github.com/cms-pm/cockpit-sub008/internal/frame"
)

// Framed reads and writes whole frame payloads over an underlying
// io.ReadWriter, one byte at a time on the receive side (matching the
// parser's FeedByte contract) and as a single Write on the send side.
type Framed struct {
	rw      io.ReadWriter
	parser  *frame.Parser
	timeout time.Duration
	readBuf [1]byte
}

// NewFramed wraps rw with the default frame timeout (T_FRAME_MS).
func NewFramed(rw io.ReadWriter) *Framed {
	return &Framed{rw: rw, parser: frame.NewParser(), timeout: frame.DefaultFrameTimeout}
}

// SetTimeout overrides the per-frame timeout (defaults to T_FRAME_MS).
func (f *Framed) SetTimeout(d time.Duration) { f.timeout = d }

// SendPayload encodes payload into a frame and writes it in one call.
func (f *Framed) SendPayload(payload []byte) error {
	wire, err := frame.Encode(payload)
	if err != nil {
		return err
	}
	_, err = f.rw.Write(wire)
	return err
}

// ReceivePayload blocks reading bytes until one complete, CRC-valid frame
// has been parsed, the per-frame timeout elapses, or the underlying reader
// returns an error.
func (f *Framed) ReceivePayload() ([]byte, error) {
	start := time.Now()
	for {
		if err := f.parser.CheckTimeout(time.Now(), f.timeout); err != nil {
			return nil, err
		}
		if time.Since(start) > f.timeout {
			return nil, frame.ErrFrameTimeout
		}

		n, err := f.rw.Read(f.readBuf[:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}

		status, payload, err := f.parser.FeedByte(f.readBuf[0])
		switch status {
		case frame.Complete:
			return payload, nil
		case frame.Invalid, frame.CrcBad:
			return nil, err
		default:
			// InProgress: keep reading.
		}
	}
}
