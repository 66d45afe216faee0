package bridge

import "fmt"

// TransportError reports that a provider leg became unreachable or its
// connection failed. It is always surfaced to the session status; the bridge
// never retries a transport failure silently.
type TransportError struct {
	// Leg names the failed connection: "conversational" or "avatar".
	Leg string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("bridge: %s leg transport: %v", e.Leg, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error { return e.Err }

// DeviceError reports that the capture device could not be acquired. Session
// start aborts immediately; a session never starts partially.
type DeviceError struct {
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string { return "bridge: capture device: " + e.Err.Error() }

// Unwrap returns the underlying device error.
func (e *DeviceError) Unwrap() error { return e.Err }

// StalledTurnError reports that a text turn received no response within the
// watchdog window, including one retry. No further automatic retries follow.
type StalledTurnError struct {
	// Text is the user message that stalled.
	Text string
}

// Error implements the error interface.
func (e *StalledTurnError) Error() string {
	return fmt.Sprintf("bridge: text turn stalled after retry: %q", e.Text)
}

// ProviderReportedError wraps a structured error payload received from the
// conversational provider. At most one automatic recovery attempt is made
// per distinct title+detail signature.
type ProviderReportedError struct {
	Title  string
	Detail string
}

// Error implements the error interface.
func (e *ProviderReportedError) Error() string {
	return fmt.Sprintf("bridge: provider error: %s: %s", e.Title, e.Detail)
}
