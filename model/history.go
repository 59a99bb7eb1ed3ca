package model

import "time"

// Run is the record of a single test lifecycle (prepare, body, teardown)
// written as run.json into the test log directory.
type Run struct {
	// Unique ID for this run (uuid)
	ID string `json:"id"`
	// Test name without parameter suffix
	Test string `json:"test"`
	// Test parameter passed to the wrapper (if any)
	Param string `json:"param,omitempty"`
	// Timestamp when the run started
	Timestamp time.Time `json:"timestamp"`
	// Duration of the run
	Duration time.Duration `json:"duration"`
	// DUT info logged during preparation
	DUT string `json:"dut,omitempty"`
	// Build provenance lines (commit hash and message)
	BuildInfo []string `json:"build_info,omitempty"`
	// Steps in the order they were entered
	Steps []Step `json:"steps,omitempty"`
	// Warnings logged during the run
	Warnings []string `json:"warnings,omitempty"`
	// Exceptions logged during the run (message and stack)
	Exceptions []Exception `json:"exceptions,omitempty"`
	// Cleanup outcomes of the teardown
	Cleanup []CleanupOutcome `json:"cleanup,omitempty"`
	// Artifacts stored next to run.json
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Step is a timed log step or group.
type Step struct {
	// Enclosing groups and the step name joined by " / "
	Path     string        `json:"path"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Group    bool          `json:"group,omitempty"`
}

// Exception is an error logged with its stack trace.
type Exception struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// ArtifactType identifies the type of artifact
type ArtifactType uint8

const (
	ArtifactTypeMainLog ArtifactType = iota
	ArtifactTypeStepProfile
	ArtifactTypeDUTLog
	ArtifactTypeTestOutput
)

func (t ArtifactType) String() string {
	switch t {
	case ArtifactTypeMainLog:
		return "main-log"
	case ArtifactTypeStepProfile:
		return "step-profile"
	case ArtifactTypeDUTLog:
		return "dut-log"
	case ArtifactTypeTestOutput:
		return "test-output"
	}
	return "unknown"
}

// Artifact represents a file generated during execution
type Artifact struct {
	Type ArtifactType `json:"type"`
	Size uint64       `json:"size"`
	File string       `json:"file"` // relative to run dir
}

// Failed reports whether any exception was logged during the run.
func (r *Run) Failed() bool {
	return len(r.Exceptions) > 0
}
