package compliance

// Summary is the free-form rollup attached to one candidate evaluation.
// A failed summary generation degrades to the zero value.
type Summary struct {
	Overview  string   `json:"overview"`
	Strengths []string `json:"strengths"`
	Risks     []string `json:"risks"`
	Unclear   []string `json:"unclear"`
}
