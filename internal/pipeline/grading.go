package pipeline

// Status is a single test's outcome as reported by the evaluation log.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
	StatusXFail   Status = "XFAIL"
)

// Mode selects how tests missing from the log are interpreted.
type Mode int

const (
	// PassAndFail treats an unreported test as failed.
	PassAndFail Mode = iota
	// FailOnly treats an unreported test as passing; used for
	// repositories whose harnesses only reliably report failures.
	FailOnly
)

// Report is the per-instance evaluation record. The flags are
// progressive: each later flag is only meaningful when every earlier
// flag is true, and a short-circuit leaves the remaining flags false.
type Report struct {
	PatchIsNone  bool         `json:"patch_is_None"`
	PatchExists  bool         `json:"patch_exists"`
	PatchApplied bool         `json:"patch_successfully_applied"`
	Resolved     bool         `json:"resolved"`
	TestsStatus  *TestsStatus `json:"tests_status,omitempty"`
}

// TestsStatus is the per-list breakdown of observed outcomes.
type TestsStatus struct {
	FailToPass Outcome `json:"FAIL_TO_PASS"`
	PassToPass Outcome `json:"PASS_TO_PASS"`
}

// Outcome partitions one declared test list by whether each test was
// observed passing.
type Outcome struct {
	Success []string `json:"success"`
	Failure []string `json:"failure"`
}

// ResolvedFull reports whether every declared expectation is satisfied:
// all fail→pass tests now pass and all pass→pass tests still pass.
func (ts TestsStatus) ResolvedFull() bool {
	return len(ts.FailToPass.Failure) == 0 && len(ts.PassToPass.Failure) == 0
}

// GradeTests evaluates the declared expectations against the observed
// status map.
func GradeTests(statuses map[string]Status, failToPass, passToPass []string, mode Mode) TestsStatus {
	var ts TestsStatus
	ts.FailToPass = gradeList(statuses, failToPass, mode)
	ts.PassToPass = gradeList(statuses, passToPass, mode)
	return ts
}

func gradeList(statuses map[string]Status, tests []string, mode Mode) Outcome {
	out := Outcome{Success: []string{}, Failure: []string{}}
	for _, name := range tests {
		if testPassed(name, statuses, mode) {
			out.Success = append(out.Success, name)
		} else {
			out.Failure = append(out.Failure, name)
		}
	}
	return out
}

func testPassed(name string, statuses map[string]Status, mode Mode) bool {
	status, reported := statuses[name]
	if !reported {
		return mode == FailOnly
	}
	switch mode {
	case FailOnly:
		return status != StatusFailed && status != StatusError
	default:
		return status == StatusPassed || status == StatusXFail
	}
}
