// Package stepid defines the step identity triple that names a step
// daemon's socket and is immutable for the life of the process.
package stepid

import "fmt"

// Reserved step-id values naming the two implicit steps every job has.
const (
	BatchScript uint32 = 0xfffffffe
	Extern      uint32 = 0xfffffffd
)

// ID is the (job_id, step_id, het_component) triple identifying a step.
type ID struct {
	JobID        uint32
	StepID       uint32
	HetComponent uint32
	HasHet       bool
}

// IsExtern reports whether this is the EXTERN pseudo-step, the only step
// on which the Extern-PID tracker (pkg/extern) operates.
func (id ID) IsExtern() bool { return id.StepID == Extern }

// IsBatchScript reports whether this is the job's batch shell step.
func (id ID) IsBatchScript() bool { return id.StepID == BatchScript }

// String renders the triple the way it appears in a socket filename's
// suffix: "<job>.<step>" or "<job>.<step>.<het>".
func (id ID) String() string {
	if id.HasHet {
		return fmt.Sprintf("%d.%d.%d", id.JobID, id.StepID, id.HetComponent)
	}
	return fmt.Sprintf("%d.%d", id.JobID, id.StepID)
}
