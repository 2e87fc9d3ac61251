package domain

// SignalResult is one evaluator's contribution to a decision.
//
// RawValue is nil when the evaluator could not produce an observation;
// in that case Degraded is set and Score holds the policy's floor.
type SignalResult struct {
	Signal      string   `json:"signal"`
	RawValue    *float64 `json:"raw_value"`
	Score       float64  `json:"score"`
	Weight      float64  `json:"weight"`
	Explanation string   `json:"explanation"`
	Degraded    bool     `json:"degraded"`
	Flags       []string `json:"flags,omitempty"`
	Override    *Verdict `json:"override,omitempty"`
}

// Contribution is the weighted share of the composite score.
func (r SignalResult) Contribution() float64 {
	return r.Weight * r.Score
}

// Raw is a helper for building RawValue.
func Raw(v float64) *float64 {
	return &v
}

// Clamp01 bounds a score to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
