// Package pipeline applies a candidate patch to a reference checkout,
// runs the evaluation script, and grades the observed test outcomes
// against the declared expectations.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Run describes one evaluation: the instance to grade, the candidate
// patch, and the declared test expectations. A Run is consumed exactly
// once and discarded after the report is produced.
type Run struct {
	InstanceID string
	Repo       string
	Version    string
	ModelPatch *string // nil means no patch was produced at all
	EvalScript string  // script text, or a path to an existing script file
	TestCmd    string

	EvalFile string // scratch path for the materialized script
	CodeRoot string // checkout path inside the sandbox

	FailToPass []string
	PassToPass []string
}

// details mirrors the external job-descriptor JSON. The test lists are
// themselves JSON-encoded string arrays inside the object.
type details struct {
	InstanceID string  `json:"instance_id"`
	Repo       string  `json:"repo"`
	Version    string  `json:"version"`
	ModelPatch *string `json:"model_patch"`
	Script     string  `json:"script"`
	TestCmd    string  `json:"test_cmd"`
	FailToPass string  `json:"FAIL_TO_PASS"`
	PassToPass string  `json:"PASS_TO_PASS"`
}

// ParseDetails decodes an evaluation job descriptor into a Run rooted at
// the given scratch directory and checkout path.
func ParseDetails(data []byte, workDir, codeRoot string) (*Run, error) {
	var d details
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing job descriptor: %w", err)
	}
	if d.InstanceID == "" {
		return nil, fmt.Errorf("job descriptor has no instance_id")
	}

	run := &Run{
		InstanceID: d.InstanceID,
		Repo:       d.Repo,
		Version:    d.Version,
		ModelPatch: d.ModelPatch,
		EvalScript: d.Script,
		TestCmd:    d.TestCmd,
		EvalFile:   filepath.Join(workDir, "eval.sh"),
		CodeRoot:   codeRoot,
	}
	if d.FailToPass != "" {
		if err := json.Unmarshal([]byte(d.FailToPass), &run.FailToPass); err != nil {
			return nil, fmt.Errorf("parsing FAIL_TO_PASS: %w", err)
		}
	}
	if d.PassToPass != "" {
		if err := json.Unmarshal([]byte(d.PassToPass), &run.PassToPass); err != nil {
			return nil, fmt.Errorf("parsing PASS_TO_PASS: %w", err)
		}
	}
	return run, nil
}

// DefaultWorkDir returns the scratch directory for evaluation artifacts:
// memory-backed on Linux, the system temp directory elsewhere.
func DefaultWorkDir() string {
	if runtime.GOOS == "linux" {
		return "/dev/shm/swe-sandbox"
	}
	return filepath.Join(os.TempDir(), "swe-sandbox")
}
