package vm

// HostStatus distinguishes the outcomes a HostInterface operation may report
// (§4.4). The VM lifts any non-HostOK status into ErrHardwareFault.
type HostStatus int

const (
	HostOK HostStatus = iota
	HostBusy
	HostUnsupported
	HostFault
)

// PinMode mirrors the small set of GPIO directions a bytecode program can
// request via PIN_MODE.
type PinMode uint8

const (
	PinInput PinMode = iota
	PinOutput
	PinInputPullup
)

// HostInterface is the capability trait (§4.4) that every opcode in the
// 0x10-0x1F band is brokered through. All operations are blocking; there is
// no async variant in the minimal profile (§5).
type HostInterface interface {
	GPIOConfig(pin uint8, mode PinMode) HostStatus
	GPIOWrite(pin uint8, value uint8) HostStatus
	GPIORead(pin uint8) (uint8, HostStatus)
	AnalogWrite(pin uint8, value uint16) HostStatus
	AnalogRead(pin uint8) (uint16, HostStatus)
	DelayMs(ms uint32) HostStatus
	TickMs() uint32
	TickUs() uint32
	SerialWriteStr(handle uint8, s string) HostStatus
	ButtonPressed(pin uint8) (bool, HostStatus)
	ButtonReleased(pin uint8) (bool, HostStatus)
}
