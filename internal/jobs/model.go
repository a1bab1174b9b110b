package jobs

import (
	"errors"
	"time"

	"ivg/internal/faults"
)

// Kind names what a job produces.
type Kind string

const (
	KindVariation         Kind = "variation"
	KindBackgroundRemoval Kind = "background_removal"
)

// Valid reports whether k is a known job kind.
func (k Kind) Valid() bool {
	return k == KindVariation || k == KindBackgroundRemoval
}

// ParseKind accepts the wire names plus the dashed CLI spelling.
func ParseKind(value string) (Kind, bool) {
	switch value {
	case string(KindVariation):
		return KindVariation, true
	case string(KindBackgroundRemoval), "background-removal", "bg":
		return KindBackgroundRemoval, true
	}
	return "", false
}

// State is a job lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// AllStates lists every state in lifecycle order.
func AllStates() []State {
	return []State{StateQueued, StateRunning, StateSucceeded, StateFailed}
}

// Mode selects how Submit executes a job.
type Mode string

const (
	ModeInline Mode = "inline"
	ModeQueued Mode = "queued"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a job is not in a state the
	// requested transition may leave from.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// ErrorDetail is the structured failure recorded on a failed job.
type ErrorDetail = faults.Detail

// Input carries what the pipeline needs to run a job.
type Input struct {
	AssetID  string `json:"asset_id,omitempty"`
	StyleID  string `json:"style_id,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	FastMode bool   `json:"fast_mode,omitempty"`
}

// Job is the persisted record of one unit of work.
type Job struct {
	ID         string
	Kind       Kind
	State      State
	OwnerScope string
	Input      Input
	OutputRef  string
	Error      *ErrorDetail
	Sequence   uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Snapshot is the client-visible view of a job at one sequence.
type Snapshot struct {
	JobID     string       `json:"job_id"`
	Kind      Kind         `json:"kind"`
	State     State        `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	OutputRef string       `json:"output_ref,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	Sequence  uint64       `json:"sequence"`
}

// Snapshot returns the client-visible view of j.
func (j Job) Snapshot() Snapshot {
	snap := Snapshot{
		JobID:     j.ID,
		Kind:      j.Kind,
		State:     j.State,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Sequence:  j.Sequence,
	}
	if j.State == StateSucceeded {
		snap.OutputRef = j.OutputRef
	}
	if j.State == StateFailed && j.Error != nil {
		detail := *j.Error
		snap.Error = &detail
	}
	return snap
}
