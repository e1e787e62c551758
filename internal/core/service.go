package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// saveTimeout bounds the verdict write independently of the analysis deadline
const saveTimeout = 10 * time.Second

// PhishingDetectionService fuses classifier, rule and arbiter signals into one verdict
type PhishingDetectionService struct {
	classifier Classifier
	arbiter    Arbiter
	repository VerdictRepository
	logger     *zap.Logger
	stages     []stage
	now        func() time.Time
}

// NewPhishingDetectionService creates a new phishing detection service
func NewPhishingDetectionService(
	classifier Classifier,
	arbiter Arbiter,
	repository VerdictRepository,
	logger *zap.Logger,
) *PhishingDetectionService {
	s := &PhishingDetectionService{
		classifier: classifier,
		arbiter:    arbiter,
		repository: repository,
		logger:     logger,
		now:        time.Now,
	}
	s.stages = []stage{
		{
			name:    "classifier",
			applies: always,
			run:     s.classifierStage,
			onError: func(st *analysisState, err error) { st.evidence.MLError = err.Error() },
		},
		{
			name:    "rules",
			applies: always,
			run:     s.rulesStage,
		},
		{
			name:    "arbiter",
			applies: shouldEscalate,
			run:     s.arbiterStage,
			onError: func(st *analysisState, err error) { st.evidence.AIError = err.Error() },
		},
	}
	return s
}

// AnalyzeEmail runs every applicable stage, maps the final score to a risk tier
// and saves the verdict. Sub-analyzer failures are recorded in the evidence and
// never returned. A persistence failure is returned together with the verdict.
func (s *PhishingDetectionService) AnalyzeEmail(ctx context.Context, email *Email) (*Verdict, error) {
	if email.ID == "" {
		email.ID = uuid.NewString()
	}

	state := &analysisState{method: DetectionNone}
	for _, st := range s.stages {
		if !st.applies(state) {
			s.logger.Debug("Skipping stage", zap.String("stage", st.name), zap.String("email_id", email.ID))
			continue
		}
		if err := st.run(ctx, email, state); err != nil {
			s.logger.Warn("Stage failed, continuing without its signal",
				zap.String("stage", st.name),
				zap.String("email_id", email.ID),
				zap.Error(err))
			if st.onError != nil {
				st.onError(state, err)
			}
		}
	}

	verdict := &Verdict{
		EmailID:         email.ID,
		IsPhishing:      state.isPhishing,
		PhishingScore:   state.score,
		DetectionMethod: state.method,
		RiskLevel:       RiskLevelFromScore(state.score),
		Evidence:        state.evidence,
		AnalyzedAt:      s.now(),
	}

	s.logger.Info("Analyzed email",
		zap.String("email_id", verdict.EmailID),
		zap.String("sender", email.From),
		zap.Bool("is_phishing", verdict.IsPhishing),
		zap.Float64("score", verdict.PhishingScore),
		zap.String("method", string(verdict.DetectionMethod)),
		zap.String("risk_level", string(verdict.RiskLevel)))

	// The stages may have used up the caller's deadline; the verdict is still saved
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := s.repository.Save(saveCtx, verdict.EmailID, verdict); err != nil {
		s.logger.Error("Failed to save verdict", zap.String("email_id", verdict.EmailID), zap.Error(err))
		return verdict, fmt.Errorf("failed to save verdict for %s: %w", verdict.EmailID, err)
	}

	return verdict, nil
}

func (s *PhishingDetectionService) classifierStage(ctx context.Context, email *Email, st *analysisState) error {
	if s.classifier == nil {
		return ErrClassifierUnavailable
	}
	prediction, err := s.classifier.Predict(ctx, email.Body)
	if err != nil {
		return err
	}
	if prediction == nil {
		return fmt.Errorf("%w: empty prediction", ErrClassifierUnavailable)
	}

	st.evidence.MLAnalysis = prediction
	if prediction.IsPhishing && (prediction.Confidence == ConfidenceHigh || prediction.Confidence == ConfidenceMedium) {
		st.flag(prediction.Probability*100, DetectionML)
	}
	return nil
}

func (s *PhishingDetectionService) rulesStage(_ context.Context, email *Email, st *analysisState) error {
	rules := EvaluateRules(email)
	st.evidence.RuleAnalysis = rules
	if rules.Score >= RulePhishingThreshold && !st.isPhishing {
		st.flag(float64(rules.Score), DetectionRules)
	}
	return nil
}

func (s *PhishingDetectionService) arbiterStage(ctx context.Context, email *Email, st *analysisState) error {
	if s.arbiter == nil {
		return ErrArbiterUnavailable
	}
	ai, err := s.arbiter.AnalyzePhishing(ctx, email.Body, ArbiterMetadata(email))
	if err != nil {
		return err
	}
	if ai == nil {
		return fmt.Errorf("%w: empty verdict", ErrArbiterUnavailable)
	}

	st.evidence.AIAnalysis = ai
	aiPhishing := ai.IsPhishing != nil && *ai.IsPhishing

	if aiPhishing && scoreOr(ai.PhishingScore, 0) > aiEscalateAbove {
		st.flag(scoreOr(ai.PhishingScore, aiEscalateAbove), DetectionAI)
	} else if st.isPhishing && !aiPhishing && scoreOr(ai.PhishingScore, 100) < aiDisagreeBelow {
		st.score = clampScore(math.Max(st.score*aiDampenFactor, aiDampenFloor))
	}
	return nil
}

// ArbiterMetadata builds the metadata sent alongside the body to the arbiter
func ArbiterMetadata(email *Email) map[string]string {
	hasAttachment := "No"
	if email.HasAttachment {
		hasAttachment = "Yes"
	}
	return map[string]string{
		"sender":         email.From,
		"subject":        email.Subject,
		"spf_pass":       FlagString(email.SPFPass),
		"dkim_pass":      FlagString(email.DKIMPass),
		"dmarc_pass":     FlagString(email.DMARCPass),
		"has_attachment": hasAttachment,
	}
}

func scoreOr(score *float64, fallback float64) float64 {
	if score == nil {
		return fallback
	}
	return *score
}
