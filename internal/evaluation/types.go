package evaluation

import (
	"github.com/tender-engine/backend/internal/compliance"
	"github.com/tender-engine/backend/internal/extract"
)

// State tracks one candidate evaluation through the pipeline. Only hard
// per-candidate failures end in ERROR; classifier failures degrade instead.
type State string

const (
	StatePending     State = "pending"
	StateExtracting  State = "extracting"
	StateClassifying State = "classifying"
	StateAggregating State = "aggregating"
	StateDone        State = "done"
	StateError       State = "error"
)

// RequirementRecord is the verdict for one requirement against one
// candidate. Immutable once the verdict is set.
type RequirementRecord struct {
	Requirement string             `json:"requirement"`
	Category    string             `json:"category"`
	Verdict     compliance.Verdict `json:"verdict"`

	// Degraded marks a record whose verdict came from the yellow fail-safe
	// rather than a real classification.
	Degraded bool `json:"degraded,omitempty"`
}

// CandidateInput is one candidate offer bundle queued for evaluation.
type CandidateInput struct {
	Name     string
	Filename string
	Data     []byte
}

// CandidateEvaluation is the full per-candidate result. Truncated and
// DegradedUnits distinguish verdicts based on partial evidence from
// verdicts based on genuine non-compliance in readable text.
type CandidateEvaluation struct {
	ID            string              `json:"id"`
	Candidate     string              `json:"candidate"`
	State         State               `json:"state"`
	Files         []extract.Member    `json:"files"`
	Status        compliance.Status   `json:"status"`
	Icon          string              `json:"icon"`
	Confidence    float64             `json:"confidence"`
	Counts        compliance.Counts   `json:"counts"`
	Findings      []RequirementRecord `json:"findings"`
	Summary       compliance.Summary  `json:"summary"`
	Truncated     bool                `json:"truncated"`
	DegradedUnits int                 `json:"degraded_units"`
	Error         string              `json:"error,omitempty"`
}

// ProgressEvent reports a candidate state transition during a run.
type ProgressEvent struct {
	Candidate string `json:"candidate"`
	State     State  `json:"state"`
}
