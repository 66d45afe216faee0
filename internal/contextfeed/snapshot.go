// Package contextfeed keeps the conversational agent informed of live
// resident state without flooding the transport.
//
// A [Publisher] maintains the live [Snapshot] and the snapshot as of the
// last successful send. Ordinary mutations schedule a throttled flush that
// sends only a textual delta of what changed; critical transitions (a
// warning flag turning on, a risk level reaching "high") and explicit
// critical events bypass the throttle. A content digest of the composed
// text suppresses duplicate sends when a scheduled flush finds nothing
// meaningfully changed.
package contextfeed

// Snapshot is the structured live state shared with the conversational
// agent. Each section holds free-form string-keyed fields; setters merge
// partial field maps rather than replacing whole sections.
type Snapshot struct {
	PatientProfile map[string]any
	DeviceState    map[string]any
	WalkerMetrics  map[string]any
	UIState        map[string]any
	Goals          map[string]any
}

// section pairs a section name with its field map, giving the diff a stable
// iteration order.
type section struct {
	name   string
	fields map[string]any
}

func (s *Snapshot) sections() []section {
	return []section{
		{"patientProfile", s.PatientProfile},
		{"deviceState", s.DeviceState},
		{"walkerMetrics", s.WalkerMetrics},
		{"uiState", s.UIState},
		{"goals", s.Goals},
	}
}

// clone returns a deep copy. Field values are copied by reference; callers
// treat them as immutable once stored.
func (s *Snapshot) clone() *Snapshot {
	return &Snapshot{
		PatientProfile: cloneSection(s.PatientProfile),
		DeviceState:    cloneSection(s.DeviceState),
		WalkerMetrics:  cloneSection(s.WalkerMetrics),
		UIState:        cloneSection(s.UIState),
		Goals:          cloneSection(s.Goals),
	}
}

func cloneSection(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeSection merges partial fields into dst, allocating dst when nil.
func mergeSection(dst, fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		dst[k] = v
	}
	return dst
}
