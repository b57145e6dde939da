package engine

import (
	"fmt"

	"github.com/chanikkyasaai/bridge/pkg/models"
	"github.com/chanikkyasaai/bridge/pkg/vector"
)

// decide dispatches to the phase-specific policy. The session vector is
// normalized; the profile is read under the caller's per-user lock.
func (e *Engine) decide(session []float64, p *models.UserProfile, phase models.Phase) *models.AnalysisResult {
	switch phase {
	case models.PhaseGradual:
		return e.decideGradual(session, p)
	case models.PhaseFullAuth:
		return e.decideFullAuth(session, p)
	default:
		return e.decideLearning(session, p)
	}
}

// decideLearning collects data. All outcomes are learn; similarity against
// the cumulative profile is reported once one exists.
func (e *Engine) decideLearning(session []float64, p *models.UserProfile) *models.AnalysisResult {
	if p.VectorCount == 0 {
		return &models.AnalysisResult{
			Similarity:  0.0,
			Confidence:  0.2,
			Decision:    models.DecisionLearn,
			RiskLevel:   models.RiskLow,
			RiskFactors: []string{"First session - no baseline for comparison"},
		}
	}

	similarity := vector.Cosine(session, p.CumulativeVector)
	confidence := float64(p.VectorCount) / float64(e.cfg.Phases.GradualAfter)
	if confidence > e.cfg.Decision.LearningConfCap {
		confidence = e.cfg.Decision.LearningConfCap
	}

	return &models.AnalysisResult{
		Similarity: similarity,
		Confidence: confidence,
		Decision:   models.DecisionLearn,
		RiskLevel:  models.RiskLow,
		RiskFactors: []string{
			"Learning phase - collecting behavioral data",
			fmt.Sprintf("Compared with %d previous sessions", p.VectorCount),
		},
		SimilarVectors: e.index.Search(models.KindCumulative, session, e.cfg.Decision.LearningTopK),
	}
}

// decideGradual applies the permissive transitional thresholds.
func (e *Engine) decideGradual(session []float64, p *models.UserProfile) *models.AnalysisResult {
	if p.VectorCount < e.cfg.Phases.GradualMinCount {
		return &models.AnalysisResult{
			Similarity:  0.8,
			Confidence:  0.6,
			Decision:    models.DecisionLearn,
			RiskLevel:   models.RiskLow,
			RiskFactors: []string{"Insufficient data - continue learning"},
		}
	}

	similarity := vector.Cosine(session, p.CumulativeVector)
	threshold := e.cfg.Thresholds.GradualRisk

	result := &models.AnalysisResult{Similarity: similarity}
	switch {
	case similarity >= threshold:
		result.Decision = models.DecisionAllow
		result.RiskLevel = models.RiskLow
		result.RiskFactors = []string{"Vector matches user profile"}
	case similarity >= threshold*e.cfg.Thresholds.GradualChallengeBand:
		result.Decision = models.DecisionChallenge
		result.RiskLevel = models.RiskMedium
		result.RiskFactors = []string{"Moderate deviation from profile"}
	default:
		result.Decision = models.DecisionBlock
		result.RiskLevel = models.RiskHigh
		result.RiskFactors = []string{"Significant deviation from profile"}
	}

	result.Confidence = float64(p.VectorCount) / float64(e.cfg.Phases.FullAuthAfter)
	if result.Confidence > e.cfg.Decision.LearningConfCap {
		result.Confidence = e.cfg.Decision.LearningConfCap
	}
	return result
}

// decideFullAuth applies the strict policy against both the baseline
// snapshot and the evolving cumulative, taking the stronger match. The
// caller ensures a baseline exists where one can be created; a profile
// still lacking one is compared against the cumulative alone.
func (e *Engine) decideFullAuth(session []float64, p *models.UserProfile) *models.AnalysisResult {
	similarity := vector.Cosine(session, p.CumulativeVector)
	if p.HasBaseline() {
		if s := vector.Cosine(session, p.BaselineVector); s > similarity {
			similarity = s
		}
	}
	threshold := e.cfg.Thresholds.FullAuth

	result := &models.AnalysisResult{
		Similarity:     similarity,
		Confidence:     e.cfg.Decision.FullAuthConf,
		SimilarVectors: e.index.Search(models.KindCumulative, session, e.cfg.Decision.FullAuthTopK),
	}
	switch {
	case similarity >= threshold:
		result.Decision = models.DecisionAllow
		result.RiskLevel = models.RiskLow
		result.RiskFactors = []string{"Strong match with user profile"}
	case similarity >= threshold*e.cfg.Thresholds.FullAuthChallengeBand:
		result.Decision = models.DecisionChallenge
		result.RiskLevel = models.RiskMedium
		result.RiskFactors = []string{"Moderate similarity to profile"}
	default:
		result.Decision = models.DecisionBlock
		result.RiskLevel = models.RiskHigh
		result.RiskFactors = []string{"Low similarity to established profile"}
	}
	return result
}
