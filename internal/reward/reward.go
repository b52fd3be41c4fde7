// Package reward exposes the evaluation pipeline to external callers:
// given an instance id and a candidate patch, it merges the patch into
// the stored job descriptor and runs the evaluation inside the sandbox
// container.
package reward

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/crucible/internal/execute"
)

// Entry is one instance in the pre-supplied dataset. Details carries the
// full job descriptor as a JSON string.
type Entry struct {
	Details string `json:"details"`
}

// Dataset maps instance ids to their stored job descriptors.
type Dataset map[string]Entry

// LoadDataset reads the dataset JSON file.
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	return ds, nil
}

// Sandbox runs a command inside the evaluation container.
type Sandbox interface {
	Exec(ctx context.Context, command, cwd string, timeout time.Duration) execute.Result
}

// Service evaluates candidate patches against the dataset inside an
// already-running sandbox container.
type Service struct {
	data        Dataset
	sandbox     Sandbox
	sharePath   string // shared filesystem visible to the sandbox
	evalCommand string // command that runs the evaluation in the sandbox
	log         *zap.Logger
}

// New creates a Service.
func New(data Dataset, sandbox Sandbox, sharePath, evalCommand string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		data:        data,
		sandbox:     sandbox,
		sharePath:   sharePath,
		evalCommand: evalCommand,
		log:         log,
	}
}

// Evaluate merges the candidate patch into the stored job descriptor,
// writes it to the shared path, and runs the evaluation command inside
// the sandbox. The raw result is returned as-is; lookup and write
// failures come back as failed results rather than errors so callers can
// treat every outcome uniformly.
func (s *Service) Evaluate(ctx context.Context, instance, modelPatch string, timeout time.Duration) execute.Result {
	entry, ok := s.data[instance]
	if !ok {
		return execute.Result{ExitCode: 1, Stderr: "instance_id not found: " + instance}
	}
	if entry.Details == "" {
		return execute.Result{ExitCode: 1, Stderr: "details is empty for instance: " + instance}
	}

	var descriptor map[string]any
	if err := json.Unmarshal([]byte(entry.Details), &descriptor); err != nil {
		return execute.Result{ExitCode: 1, Stderr: "invalid details for instance " + instance + ": " + err.Error()}
	}
	descriptor["model_patch"] = modelPatch

	merged, err := json.Marshal(descriptor)
	if err != nil {
		return execute.Result{ExitCode: 1, Stderr: "encoding details: " + err.Error()}
	}
	detailsPath := filepath.Join(s.sharePath, "details.json")
	if err := os.WriteFile(detailsPath, merged, 0o644); err != nil {
		return execute.Result{ExitCode: 1, Stderr: "writing details: " + err.Error()}
	}

	s.log.Info("evaluating instance",
		zap.String("instance", instance),
		zap.Duration("timeout", timeout))
	return s.sandbox.Exec(ctx, s.evalCommand, filepath.Join(s.sharePath, "eval"), timeout)
}
