package models

import "time"

// Run is one evaluation run: a requirement document set scored against one
// or more candidates.
type Run struct {
	ID               string
	RequirementURLs  []string
	CandidateURLs    []string
	Status           string
	RequirementCount int
	Requirements     map[string][]string
	Error            string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// CandidateResult is the persisted outcome for one candidate within a run.
type CandidateResult struct {
	ID            string
	RunID         string
	Name          string
	State         string
	Status        string
	Icon          string
	Confidence    float64
	GreenCount    int
	YellowCount   int
	RedCount      int
	TotalCount    int
	Truncated     bool
	DegradedUnits int
	Files         []FileRecord
	Summary       string
	Error         string
	CreatedAt     time.Time
}

// FileRecord is one file encountered while extracting a candidate's
// documents, including members of nested archives.
type FileRecord struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Finding is one requirement's verdict against one candidate.
type Finding struct {
	ID          int
	CandidateID string
	Category    string
	Requirement string
	Status      string
	Issue       string
	Risk        string
	Note        string
	Degraded    bool
}
