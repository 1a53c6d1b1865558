package main

import (
	"log/slog"

	"github.com/cms-pm/cockpit-sub008/internal/flash"
	"github.com/cms-pm/cockpit-sub008/internal/frame"
	"github.com/cms-pm/cockpit-sub008/internal/proto"
	"github.com/cms-pm/cockpit-sub008/internal/transport"
)

// demoIdentity is the device identity the bundled in-process demo server
// reports; a real port would read this from hardware.
var demoIdentity = proto.DeviceIdentity{
	Model:             "cockpit-sim",
	BootloaderVersion: "1.0.0",
	HardwareRevision:  1,
	Capabilities:      0xFFFFFFFF,
}

// dialDemoDevice spins up an in-process bootloader session server connected
// to the returned transport.Framed, standing in for a real serial port
// (§2.2/§6.3: cockpitbootctl's bundled demo companion, used when no serial
// device is configured).
func dialDemoDevice(logger *slog.Logger) *transport.Framed {
	clientSide, deviceSide := transport.NewInProcessPair()
	client := transport.NewFramed(clientSide)

	layout := flash.DefaultLayout()
	dev := flash.NewSimulatedDevice(layout.TotalSize())
	engine := proto.NewEngine(demoIdentity, layout, dev, logger)

	go engine.Serve(transport.NewFramed(deviceSide))
	return client
}

// encodeAndSend is a thin convenience wrapper used by every command.
func encodeAndSend(t *transport.Framed, seq uint32, req proto.Request) error {
	payload, err := proto.EncodeRequest(seq, req)
	if err != nil {
		return err
	}
	return t.SendPayload(payload)
}

// receiveResponse reads and decodes exactly one response frame.
func receiveResponse(t *transport.Framed) (uint32, proto.ResultCode, proto.Response, error) {
	payload, err := t.ReceivePayload()
	if err != nil {
		if err == frame.ErrFrameTimeout {
			return 0, 0, nil, errTimeout
		}
		return 0, 0, nil, err
	}
	return proto.DecodeResponse(payload)
}
