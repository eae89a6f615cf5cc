// Package jobs tracks the lifecycle of processing jobs. The Registry is the
// single owner of job records; callers only ever receive copies.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/errs"
)

// State is a job lifecycle state
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are allowed
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// transitions lists the legal next states for each state
var transitions = map[State][]State{
	StateQueued:  {StateRunning, StateFailed, StateCancelled},
	StateRunning: {StateRunning, StateCompleted, StateFailed, StateCancelled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is a snapshot of one processing request
type Job struct {
	ID         string       `json:"id"`
	SourceID   string       `json:"source_id"`
	SourcePath string       `json:"source_path"`
	Spec       effects.Spec `json:"spec"`
	State      State        `json:"state"`
	Progress   float64      `json:"progress"`
	Message    string       `json:"message"`
	Reason     errs.Kind    `json:"reason,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	OutputPath string       `json:"output_path,omitempty"`
}

// Failure rebuilds the classified error of a Failed or Cancelled job
func (j Job) Failure() error {
	switch j.State {
	case StateFailed:
		return errs.New(j.Reason, "job", errors.New(j.Message)).WithJob(j.ID)
	case StateCancelled:
		return errs.New(errs.KindCancelled, "job", errors.New(j.Message)).WithJob(j.ID)
	}
	return nil
}

// TransitionError is returned for an illegal state change
type TransitionError struct {
	JobID string
	From  State
	To    State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}
