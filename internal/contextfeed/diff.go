package contextfeed

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// roundPlaces is the decimal precision used when comparing numeric fields.
// Sensor floats jitter in the far decimals; without rounding, every flush
// would see a "change" and the throttle would never suppress anything.
const roundPlaces = 2

// metricDirection annotates well-understood walker metrics with whether a
// rising value is good news. Metrics not listed here get no annotation.
var metricDirection = map[string]bool{
	"cadence":       true,
	"speed":         true,
	"stride_length": true,
	"steps":         true,
	"distance":      true,
	"tilt":          false,
	"sway":          false,
	"lean_angle":    false,
}

// numericValue extracts a numeric field value. Snapshot fields arrive as
// whatever the host application stored, so all common numeric kinds are
// accepted.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func round2(v float64) float64 {
	scale := math.Pow(10, roundPlaces)
	return math.Round(v*scale) / scale
}

// formatValue renders a field value for the composed update text.
func formatValue(v any) string {
	if n, ok := numericValue(v); ok {
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", round2(n)), "0"), ".")
	}
	return fmt.Sprint(v)
}

// fieldChanged reports whether a field meaningfully changed between two
// snapshots. Numeric fields compare after rounding; everything else
// compares by rendered value.
func fieldChanged(oldVal, newVal any) bool {
	oldNum, oldOK := numericValue(oldVal)
	newNum, newOK := numericValue(newVal)
	if oldOK && newOK {
		return round2(oldNum) != round2(newNum)
	}
	return fmt.Sprint(oldVal) != fmt.Sprint(newVal)
}

// directionNote returns the better/worse annotation for a changed numeric
// metric, or "" when the metric has no well-defined direction.
func directionNote(key string, oldVal, newVal any) string {
	higherIsBetter, known := metricDirection[key]
	if !known {
		return ""
	}
	oldNum, oldOK := numericValue(oldVal)
	newNum, newOK := numericValue(newVal)
	if !oldOK || !newOK {
		return ""
	}
	rose := round2(newNum) > round2(oldNum)
	if rose == higherIsBetter {
		return " (better)"
	}
	return " (worse)"
}

// composeDelta renders the fields of live that changed since prev, one line
// per field, grouped by section. Returns "" when nothing changed.
func composeDelta(prev, live *Snapshot) string {
	var b strings.Builder
	prevSections := prev.sections()
	for i, sec := range live.sections() {
		keys := changedKeys(prevSections[i].fields, sec.fields)
		for _, k := range keys {
			oldVal, hadOld := prevSections[i].fields[k]
			newVal := sec.fields[k]
			if b.Len() == 0 {
				b.WriteString("State update:\n")
			}
			if hadOld {
				fmt.Fprintf(&b, "%s.%s: %s -> %s%s\n",
					sec.name, k, formatValue(oldVal), formatValue(newVal),
					directionNote(k, oldVal, newVal))
			} else {
				fmt.Fprintf(&b, "%s.%s: %s\n", sec.name, k, formatValue(newVal))
			}
		}
	}
	return b.String()
}

// changedKeys returns the sorted keys of new fields absent from or changed
// against old.
func changedKeys(old, new map[string]any) []string {
	var keys []string
	for k, v := range new {
		oldVal, ok := old[k]
		if !ok || fieldChanged(oldVal, v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// composeFull renders the entire snapshot. Used for the first send, when
// there is no prior state to diff against.
func composeFull(live *Snapshot) string {
	var b strings.Builder
	for _, sec := range live.sections() {
		if len(sec.fields) == 0 {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Current state:\n")
		}
		keys := make([]string, 0, len(sec.fields))
		for k := range sec.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s.%s: %s\n", sec.name, k, formatValue(sec.fields[k]))
		}
	}
	return b.String()
}
