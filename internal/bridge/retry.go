package bridge

// The bridge carries two independent retry classes, each a small explicit
// state machine so the "at most one retry" invariant is enforceable and
// testable in isolation:
//
//   - textWatchdog guards a sent text turn against a silent provider.
//   - errorRecovery bounds automatic resends after structured provider
//     errors to one attempt per distinct error signature.
//
// Both are mutated only from the session's event loop and need no locking.

// watchdogState is the state of a text-turn watchdog cycle.
type watchdogState int

const (
	watchdogIdle watchdogState = iota
	watchdogWaiting
	watchdogRetried
)

// textWatchdog tracks one in-flight text turn. A first timeout retries the
// same text once; a second timeout gives up and reports the turn stalled.
type textWatchdog struct {
	state    watchdogState
	lastText string
}

// sent records that a text message went out and a response is now awaited.
// Sending a new message resets any previous cycle.
func (w *textWatchdog) sent(text string) {
	w.state = watchdogWaiting
	w.lastText = text
}

// responded records that the provider answered; the cycle returns to idle.
func (w *textWatchdog) responded() {
	w.state = watchdogIdle
	w.lastText = ""
}

// timeout advances the machine on a watchdog expiry. The first expiry
// returns the text to resend with retry=true; the second returns the text
// with stalled=true and ends the cycle. An expiry in the idle state (stale
// timer) is a no-op.
func (w *textWatchdog) timeout() (text string, retry, stalled bool) {
	switch w.state {
	case watchdogWaiting:
		w.state = watchdogRetried
		return w.lastText, true, false
	case watchdogRetried:
		text = w.lastText
		w.state = watchdogIdle
		w.lastText = ""
		return text, false, true
	default:
		return "", false, false
	}
}

// waiting reports whether a response is currently awaited.
func (w *textWatchdog) waiting() bool { return w.state != watchdogIdle }

// errorRecovery deduplicates structured provider errors by signature and
// allows at most one automatic recovery attempt per distinct signature.
// This prevents retry storms when the provider fails deterministically for
// the same input.
type errorRecovery struct {
	attempted map[string]bool
}

func newErrorRecovery() *errorRecovery {
	return &errorRecovery{attempted: make(map[string]bool)}
}

// signature builds the deduplication key for a structured provider error.
func (r *errorRecovery) signature(title, detail string) string {
	return title + "\x00" + detail
}

// tryAttempt reports whether a recovery attempt is allowed for this
// signature, marking it consumed when it is. Subsequent calls with the same
// signature return false.
func (r *errorRecovery) tryAttempt(title, detail string) bool {
	sig := r.signature(title, detail)
	if r.attempted[sig] {
		return false
	}
	r.attempted[sig] = true
	return true
}
