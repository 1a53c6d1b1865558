package vm

// maxObservers bounds the observer bus (§4.5).
const maxObservers = 4

// Observer is the capability set notified of per-instruction and lifecycle
// events. Implementations MUST NOT mutate VM state from these callbacks;
// the engine only promises synchronous, in-registration-order delivery.
type Observer interface {
	OnInstructionExecuted(pcBefore uint32, op Opcode, immediate uint16)
	OnExecutionComplete(totalInstructions uint64, elapsedMs uint64)
	OnVMReset()
}

// observerBus stores a bounded list of observer references without taking
// ownership of them (§9 "Observer bus"). A panicking observer is treated as
// a bug in that observer, not a VM fault: it is unregistered and execution
// continues.
type observerBus struct {
	observers []Observer
}

// Register adds o to the bus in order. Past maxObservers the registration
// is dropped and Register returns false — callers that need more should
// multiplex through a single fan-out Observer instead.
func (b *observerBus) Register(o Observer) bool {
	if len(b.observers) >= maxObservers {
		return false
	}
	b.observers = append(b.observers, o)
	return true
}

// Unregister removes o if present.
func (b *observerBus) Unregister(o Observer) {
	for i, existing := range b.observers {
		if existing == o {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

func (b *observerBus) notifyInstruction(pcBefore uint32, op Opcode, immediate uint16) {
	b.forEach(func(o Observer) { o.OnInstructionExecuted(pcBefore, op, immediate) })
}

func (b *observerBus) notifyComplete(total uint64, elapsedMs uint64) {
	b.forEach(func(o Observer) { o.OnExecutionComplete(total, elapsedMs) })
}

func (b *observerBus) notifyReset() {
	b.forEach(func(o Observer) { o.OnVMReset() })
}

// forEach delivers to each observer in registration order, synchronously,
// recovering from and unregistering any observer that panics.
func (b *observerBus) forEach(deliver func(Observer)) {
	i := 0
	for i < len(b.observers) {
		o := b.observers[i]
		if !b.deliverSafely(o, deliver) {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			continue
		}
		i++
	}
}

func (b *observerBus) deliverSafely(o Observer, deliver func(Observer)) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	deliver(o)
	return true
}
