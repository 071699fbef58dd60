package specflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EvalResult is a parsed quality-gate evaluation.
type EvalResult struct {
	// Score is normalized to the 0-100 scale.
	Score float64

	// RawScore is the value the tool reported.
	RawScore float64

	// Feedback is the evaluator's explanation, used to steer a retry.
	Feedback string
}

// Passed reports whether the score meets threshold (0-100).
func (r EvalResult) Passed(threshold float64) bool {
	return r.Score >= threshold
}

type evalPayload struct {
	Score    *float64        `json:"score"`
	Feedback json.RawMessage `json:"feedback"`
	Summary  string          `json:"summary"`
	Result   *evalPayload    `json:"result"`
}

// ParseEvalOutput extracts the score and feedback from `eval run --json` output.
// Leading log lines before the JSON object are tolerated.
func ParseEvalOutput(out string) (EvalResult, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end < start {
		return EvalResult{}, fmt.Errorf("eval output contains no JSON object")
	}

	var p evalPayload
	if err := json.Unmarshal([]byte(out[start:end+1]), &p); err != nil {
		return EvalResult{}, fmt.Errorf("parse eval output: %w", err)
	}
	if p.Score == nil && p.Result != nil {
		p = *p.Result
	}
	if p.Score == nil {
		return EvalResult{}, fmt.Errorf("eval output has no score")
	}

	feedback := decodeFeedback(p.Feedback)
	if feedback == "" {
		feedback = p.Summary
	}
	return EvalResult{
		Score:    NormalizeScore(*p.Score),
		RawScore: *p.Score,
		Feedback: feedback,
	}, nil
}

// NormalizeScore maps a fractional score (<= 1.0) onto 0-100. Larger values are
// taken as already on the 0-100 scale.
func NormalizeScore(raw float64) float64 {
	if raw <= 1.0 {
		return raw * 100
	}
	return raw
}

func decodeFeedback(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "\n")
	}
	return string(raw)
}
