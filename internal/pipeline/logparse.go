package pipeline

import "strings"

// ParseTestLog extracts per-test outcomes from a captured evaluation
// log. It recognizes lines of the form "<STATUS> <test name>" and
// "<test name> <STATUS>" where STATUS is one of PASSED, FAILED, ERROR,
// SKIPPED, or XFAIL. found reports whether any marker was seen at all;
// a log with no markers is not an error, just an ungradable run.
func ParseTestLog(log string) (statuses map[string]Status, found bool) {
	statuses = make(map[string]Status)
	for _, raw := range strings.Split(log, "\n") {
		fields := strings.Fields(strings.TrimSpace(raw))
		if len(fields) < 2 {
			continue
		}
		if status, ok := asStatus(fields[0]); ok {
			statuses[strings.Join(fields[1:], " ")] = status
			continue
		}
		if status, ok := asStatus(fields[len(fields)-1]); ok {
			statuses[strings.Join(fields[:len(fields)-1], " ")] = status
		}
	}
	return statuses, len(statuses) > 0
}

func asStatus(word string) (Status, bool) {
	switch Status(word) {
	case StatusPassed, StatusFailed, StatusError, StatusSkipped, StatusXFail:
		return Status(word), true
	}
	return "", false
}
