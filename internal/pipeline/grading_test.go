package pipeline

import "testing"

func TestGradeTestsResolution(t *testing.T) {
	statuses := map[string]Status{"t1": StatusPassed, "t2": StatusFailed}

	ts := GradeTests(statuses, []string{"t1"}, []string{"t2"}, PassAndFail)
	if ts.ResolvedFull() {
		t.Error("t2 observed failing, resolution must be false")
	}
	if len(ts.FailToPass.Success) != 1 || ts.FailToPass.Success[0] != "t1" {
		t.Errorf("fail→pass = %+v", ts.FailToPass)
	}
	if len(ts.PassToPass.Failure) != 1 || ts.PassToPass.Failure[0] != "t2" {
		t.Errorf("pass→pass = %+v", ts.PassToPass)
	}
}

func TestGradeTestsAllPassing(t *testing.T) {
	statuses := map[string]Status{"t1": StatusPassed, "t2": StatusXFail}

	ts := GradeTests(statuses, []string{"t1"}, []string{"t2"}, PassAndFail)
	if !ts.ResolvedFull() {
		t.Error("every expectation satisfied (XFAIL counts as passing), want resolved")
	}
}

func TestGradeTestsUnreported(t *testing.T) {
	statuses := map[string]Status{"t1": StatusPassed}

	// Strict mode: an unreported test is a failure.
	ts := GradeTests(statuses, []string{"t1"}, []string{"t2"}, PassAndFail)
	if ts.ResolvedFull() {
		t.Error("unreported pass→pass test must fail in strict mode")
	}

	// Fail-only mode: only reported failures count against the run.
	ts = GradeTests(statuses, []string{"t1"}, []string{"t2"}, FailOnly)
	if !ts.ResolvedFull() {
		t.Error("unreported test must pass in fail-only mode")
	}
}

func TestGradeTestsFailOnlyStillFails(t *testing.T) {
	statuses := map[string]Status{"t1": StatusError}

	ts := GradeTests(statuses, []string{"t1"}, nil, FailOnly)
	if ts.ResolvedFull() {
		t.Error("a reported ERROR must fail even in fail-only mode")
	}
}

func TestGradeTestsEmptyLists(t *testing.T) {
	ts := GradeTests(map[string]Status{}, nil, nil, PassAndFail)
	if !ts.ResolvedFull() {
		t.Error("empty expectations are vacuously satisfied")
	}
}
