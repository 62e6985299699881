package compliance

import "math"

// Counts breaks an aggregated result down by status.
type Counts struct {
	Green  int `json:"green"`
	Yellow int `json:"yellow"`
	Red    int `json:"red"`
	Total  int `json:"total"`
}

func CountStatuses(verdicts []Verdict) Counts {
	c := Counts{Total: len(verdicts)}
	for _, v := range verdicts {
		switch v.Status {
		case StatusGreen:
			c.Green++
		case StatusRed:
			c.Red++
		default:
			c.Yellow++
		}
	}
	return c
}

// Aggregate rolls a list of verdicts into one final status plus a confidence
// score. The worst status present dominates. Confidence is the fraction of
// green verdicts, rounded to 3 decimals; it is a transparency metric derived
// purely from counts, not a probability. Both outputs are order-independent.
//
// An empty input aggregates to green with zero confidence; callers that care
// about the distinction must check Counts.Total themselves.
func Aggregate(verdicts []Verdict) (Status, float64) {
	counts := CountStatuses(verdicts)
	return aggregateCounts(counts)
}

// AggregateCounts is the counts-only form, usable to re-derive a stored
// result from its findings list.
func AggregateCounts(counts Counts) (Status, float64) {
	return aggregateCounts(counts)
}

func aggregateCounts(c Counts) (Status, float64) {
	status := StatusGreen
	if c.Red > 0 {
		status = StatusRed
	} else if c.Yellow > 0 {
		status = StatusYellow
	}

	confidence := float64(c.Green) / math.Max(1, float64(c.Total))
	confidence = math.Round(confidence*1000) / 1000

	return status, confidence
}

// Worst returns the dominant verdict of a non-empty list: the first verdict
// carrying the aggregated status, so its rationale survives the rollup.
func Worst(verdicts []Verdict) Verdict {
	if len(verdicts) == 0 {
		return NewVerdict(StatusGreen, Reason{})
	}
	worst := verdicts[0]
	for _, v := range verdicts[1:] {
		if v.Status.rank() > worst.Status.rank() {
			worst = v
		}
	}
	return worst
}
