package runner

import (
	"encoding/json"
	"time"

	"github.com/cronflow/cronflow/internal/models"
)

// Handoff file names form the stable contract between the core and a user
// script. The first three are written before the run, the last two are read
// back afterwards.
const (
	fileInput     = "input.json"
	fileEvent     = "event.json"
	fileVariables = "variables.json"
	fileOutput    = "output.json"
	fileCondition = "condition.json"
)

// Request carries everything one sandbox invocation needs.
type Request struct {
	Event     *models.Event
	Input     json.RawMessage            // input parameters for input.json
	Metadata  map[string]any             // static event metadata for event.json
	Variables map[string]json.RawMessage // pre-run variable snapshot
	Env       map[string]string          // merged on top of the process env
	Timeout   time.Duration
}

// Result is the outcome of one sandbox invocation. Err marks a failed
// attempt (non-zero exit, spawn failure, timeout); parse warnings for the
// optional result files land on Stderr instead so they never fail a run.
type Result struct {
	Stdout    string
	Stderr    string
	Output    json.RawMessage
	Condition *bool
	TimedOut  bool
	ExitCode  int
	Err       string
}

// Failed reports whether the attempt must be classified as a failure.
func (r *Result) Failed() bool {
	return r.TimedOut || r.Err != ""
}

// conditionFile is the shape of condition.json.
type conditionFile struct {
	Condition bool `json:"condition"`
}
