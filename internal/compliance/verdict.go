package compliance

import (
	"fmt"
	"strings"
)

// Status is the three-state compliance judgment for one evaluated unit.
// For aggregation purposes red dominates yellow, which dominates green.
type Status string

const (
	StatusGreen  Status = "green"
	StatusYellow Status = "yellow"
	StatusRed    Status = "red"
)

func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusGreen:
		return StatusGreen, nil
	case StatusYellow:
		return StatusYellow, nil
	case StatusRed:
		return StatusRed, nil
	default:
		return "", fmt.Errorf("unknown compliance status: %q", s)
	}
}

// rank orders statuses for the dominance rule. Higher is worse.
func (s Status) rank() int {
	switch s {
	case StatusRed:
		return 2
	case StatusYellow:
		return 1
	default:
		return 0
	}
}

func (s Status) Icon() string {
	switch s {
	case StatusGreen:
		return "🟢"
	case StatusYellow:
		return "🟡"
	case StatusRed:
		return "🔴"
	default:
		return ""
	}
}

// Reason carries the structured rationale behind a verdict.
type Reason struct {
	Issue string `json:"issue"`
	Risk  string `json:"risk"`
	Note  string `json:"note"`
}

// Verdict is produced by the classifier for one unit of text and re-produced
// by the aggregator as the rolled-up judgment for a whole candidate.
type Verdict struct {
	Status Status `json:"status"`
	Reason Reason `json:"reason"`
	Icon   string `json:"icon"`
}

func NewVerdict(status Status, reason Reason) Verdict {
	return Verdict{
		Status: status,
		Reason: reason,
		Icon:   status.Icon(),
	}
}

// Fallback is the single fail-safe rule of the engine: a unit that could not
// be evaluated is never scored green or red by default.
func Fallback(detail string) Verdict {
	return NewVerdict(StatusYellow, Reason{
		Issue: "evaluation error",
		Risk:  "unit could not be fully evaluated",
		Note:  detail,
	})
}
