package proto

import (
	"errors"

	"github.com/cms-pm/cockpit-sub008/internal/frame"
	"github.com/cms-pm/cockpit-sub008/internal/transport"
)

// Serve implements the bootloader's blocking device-side main loop (§5): pump
// frames off t, decode each into a Request, drive the session state machine,
// and send back every resulting Outcome. It returns when ReceivePayload
// returns a non-recoverable error (the transport closed).
func (e *Engine) Serve(t *transport.Framed) error {
	for {
		payload, err := t.ReceivePayload()
		if err != nil {
			if errors.Is(err, frame.ErrFrameInvalid) || errors.Is(err, frame.ErrCrcMismatch) ||
				errors.Is(err, frame.ErrPayloadTooLarge) || errors.Is(err, frame.ErrFrameTimeout) {
				continue // framing error or stalled frame; wait for the next one
			}
			return err
		}
		seq, req, err := DecodeRequest(payload)
		if err != nil {
			continue // malformed frame payload; wait for the next one
		}
		for _, outcome := range e.HandleRequest(seq, req) {
			resp, err := EncodeResponse(seq, outcome.Result, outcome.Response)
			if err != nil {
				continue
			}
			if err := t.SendPayload(resp); err != nil {
				return err
			}
		}
	}
}
