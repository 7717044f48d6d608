package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCanceled  RunStatus = "CANCELED"
)

func ParseRunStatus(raw string) (RunStatus, bool) {
	switch s := RunStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case RunStatusQueued, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return s, true
	default:
		return "", false
	}
}

// Terminal reports whether no further execution happens from this status.
// FAILED is terminal for an execution but may be restarted.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCanceled
}

// Startable reports whether an execution request may begin from this status.
func (s RunStatus) Startable() bool {
	return s == RunStatusQueued || s == RunStatusFailed
}

// StartableStatuses lists the statuses an execution may begin from.
func StartableStatuses() []RunStatus {
	return []RunStatus{RunStatusQueued, RunStatusFailed}
}

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusQueued:  {RunStatusRunning, RunStatusCanceled},
	RunStatusRunning: {RunStatusSucceeded, RunStatusFailed, RunStatusCanceled},
	RunStatusFailed:  {RunStatusRunning, RunStatusQueued},
}

// CanTransition reports whether from -> to is an edge of the run state machine.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Run is one execution attempt of a training configuration.
type Run struct {
	ID           string
	ExperimentID string
	Name         string
	Status       RunStatus
	Params       Value
	Metrics      Value
	Error        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ExperimentID) == "" {
		return errors.New("experiment id is required")
	}
	if _, ok := ParseRunStatus(string(r.Status)); !ok {
		return fmt.Errorf("invalid run status %q", r.Status)
	}
	if !r.Params.IsNull() && r.Params.Kind() != KindObject {
		return errors.New("run params must be an object")
	}
	if err := r.checkPayload(); err != nil {
		return err
	}
	return nil
}

// checkPayload enforces that metrics are set only for SUCCEEDED runs and
// error only for FAILED runs.
func (r Run) checkPayload() error {
	if (r.Status == RunStatusSucceeded) != !r.Metrics.IsNull() {
		return fmt.Errorf("run %s: metrics must be set iff status is %s", r.Status, RunStatusSucceeded)
	}
	if (r.Status == RunStatusFailed) != (r.Error != nil) {
		return fmt.Errorf("run %s: error must be set iff status is %s", r.Status, RunStatusFailed)
	}
	return nil
}

// RunTransition is a compare-and-set request: move the run to To when its
// current status is one of From. Metrics is only used for SUCCEEDED and Error
// only for FAILED.
type RunTransition struct {
	From    []RunStatus
	To      RunStatus
	Metrics Value
	Error   string
	At      time.Time
}

func (t RunTransition) Validate() error {
	if len(t.From) == 0 {
		return errors.New("transition source statuses are required")
	}
	for _, from := range t.From {
		if !CanTransition(from, t.To) {
			return fmt.Errorf("invalid run transition %s -> %s", from, t.To)
		}
	}
	if t.To == RunStatusSucceeded && t.Metrics.IsNull() {
		return errors.New("succeeded transition requires metrics")
	}
	if t.To == RunStatusFailed && strings.TrimSpace(t.Error) == "" {
		return errors.New("failed transition requires an error message")
	}
	return nil
}

// Allows reports whether the transition applies to a run in status s.
func (t RunTransition) Allows(s RunStatus) bool {
	for _, from := range t.From {
		if from == s {
			return true
		}
	}
	return false
}

// Apply returns r with the transition applied. Status and its payload change
// together: metrics and error are cleared unless the target status carries them.
func (t RunTransition) Apply(r Run) Run {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	r.Status = t.To
	r.UpdatedAt = at
	r.Metrics = Null()
	r.Error = nil
	switch t.To {
	case RunStatusRunning:
		r.StartedAt = &at
		r.EndedAt = nil
	case RunStatusQueued:
		r.StartedAt = nil
		r.EndedAt = nil
	case RunStatusSucceeded:
		r.Metrics = t.Metrics
		r.EndedAt = &at
	case RunStatusFailed:
		msg := t.Error
		r.Error = &msg
		r.EndedAt = &at
	case RunStatusCanceled:
		r.EndedAt = &at
	}
	return r
}

// RunEvent records one accepted status change of a run.
type RunEvent struct {
	ID    int64
	RunID string
	At    time.Time
	Actor string
	From  RunStatus
	To    RunStatus
	Error *string
}

// AuditAction names the audit event recorded for a transition into s.
func AuditAction(s RunStatus) string {
	return "run." + strings.ToLower(string(s))
}
