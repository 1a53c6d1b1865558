package emergency_test

import (
	"testing"
	"time"

	"github.com/cms-pm/cockpit-sub008/internal/emergency"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestHandleRecoversOnFirstAttempt(t *testing.T) {
	cfg := emergency.Config{MaxRetries: 3, Backoff: time.Millisecond}
	var cleaned, safed bool
	m := emergency.NewManager(cfg, func() { cleaned = true }, func() { safed = true }, nil)

	event := m.Handle(emergency.ConditionCommunicationFailure, emergency.ActionResetProtocol, func(emergency.Action) bool {
		return true
	})
	assert(t, cleaned && safed, "cleanup and safe-state hooks must run before recovery is attempted")
	assert(t, event.Recovered, "want Recovered=true")
	assert(t, event.Attempt == 1, "want attempt=1, got %d", event.Attempt)
}

func TestHandleExhaustsRetriesThenGivesUp(t *testing.T) {
	cfg := emergency.Config{MaxRetries: 3, Backoff: time.Millisecond}
	m := emergency.NewManager(cfg, nil, nil, nil)

	attempts := 0
	event := m.Handle(emergency.ConditionHardwareFault, emergency.ActionSafeMode, func(emergency.Action) bool {
		attempts++
		return false
	})
	assert(t, !event.Recovered, "want Recovered=false after exhausting retries")
	assert(t, attempts == cfg.MaxRetries, "want %d attempts, got %d", cfg.MaxRetries, attempts)
	assert(t, event.Attempt == cfg.MaxRetries, "want event.Attempt=%d, got %d", cfg.MaxRetries, event.Attempt)
}

func TestHistoryRetainsAtLeastFourEventsInOrder(t *testing.T) {
	cfg := emergency.Config{MaxRetries: 1, Backoff: 0}
	m := emergency.NewManager(cfg, nil, nil, nil)

	conditions := []emergency.Condition{
		emergency.ConditionResourceExhaustion,
		emergency.ConditionHardwareFault,
		emergency.ConditionCommunicationFailure,
		emergency.ConditionFlashCorruption,
		emergency.ConditionCriticalTimeout,
		emergency.ConditionProtocolViolation,
	}
	for _, c := range conditions {
		m.Handle(c, emergency.ActionFlushBuffers, func(emergency.Action) bool { return true })
	}

	hist := m.History()
	assert(t, len(hist) == 4, "want history length 4, got %d", len(hist))
	// The last 4 conditions handled, oldest first.
	want := conditions[len(conditions)-4:]
	for i, c := range want {
		assert(t, hist[i].Condition == c, "history[%d]: want %v, got %v", i, c, hist[i].Condition)
	}
}
