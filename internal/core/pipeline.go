package core

import (
	"context"
)

// Escalation thresholds for the arbiter stage
const (
	// confirmBelowScore is the score under which a flagged message is sent to the arbiter for confirmation
	confirmBelowScore = 70
	// aiEscalateAbove is the arbiter score above which the arbiter flags the message itself
	aiEscalateAbove = 70
	// aiDisagreeBelow is the arbiter score under which a disagreeing arbiter dampens a flagged score
	aiDisagreeBelow = 30
	// aiDampenFactor and aiDampenFloor bound the dampened score
	aiDampenFactor = 0.7
	aiDampenFloor  = 50
)

// analysisState is the accumulator shared by all stages of one analysis
type analysisState struct {
	isPhishing bool
	score      float64
	method     DetectionMethod
	evidence   Evidence
}

// flag marks the message as phishing on behalf of a signal
func (s *analysisState) flag(score float64, method DetectionMethod) {
	s.isPhishing = true
	s.score = clampScore(score)
	s.method = method
}

// stage is one step of the tiered evaluation pipeline. A stage only sees the
// accumulated state; its error is folded into evidence and never stops the run.
type stage struct {
	name    string
	applies func(s *analysisState) bool
	run     func(ctx context.Context, email *Email, s *analysisState) error
	onError func(s *analysisState, err error)
}

func always(*analysisState) bool { return true }

// shouldEscalate decides whether the arbiter is consulted
func shouldEscalate(s *analysisState) bool {
	if !s.isPhishing {
		return s.evidence.RuleAnalysis.Score >= RuleEscalationThreshold
	}
	return s.score < confirmBelowScore
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
