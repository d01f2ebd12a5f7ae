package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/config"
)

const (
	extractionSystemPrompt = "You are a hiring copilot. Read the job description and output strict JSON with a requirements[] array. Each requirement must include id, title, description, priority (low|medium|high), competencies array, mustHave, niceToHave, probingQuestions. Return only minified JSON without additional commentary."
	planSystemPrompt       = "You are a hiring copilot. Read the job description and output strict JSON with properties sessionId and groups[]. Each group must include id, title, importance (must-have|nice-to-have), criteria array, successSignals, riskSignals, conflictSignals, probingQuestions, successSummary. Return only minified JSON without additional commentary."
)

// ErrNoGroups is returned when the plan service yields an empty plan.
var ErrNoGroups = errors.New("plan response contained no groups")

// ModelClient sends one prompt to the external model and returns its text.
type ModelClient interface {
	Complete(ctx context.Context, model, system, user string, maxTokens int) (string, error)
}

// Service turns raw JD text into a requirement list and an evaluation plan.
// Both steps degrade rather than fail: extraction falls back to the local
// heuristic extractor, planning falls back to no plan (requirement-level
// scoring only).
type Service struct {
	cfg    config.PlannerConfig
	client ModelClient
	logger *slog.Logger
	clock  func() time.Time
}

func NewService(cfg config.PlannerConfig, client ModelClient, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		client: client,
		logger: logger.With(slog.String("component", "plan-service")),
		clock:  time.Now,
	}
}

// BuildJD extracts requirements and generates an evaluation plan for jdText.
// The returned plan is nil when plan generation is disabled or fails.
func (s *Service) BuildJD(ctx context.Context, jdText, sessionID string) ([]Requirement, *Plan) {
	requirements := s.extractRequirements(ctx, jdText)
	p := s.generatePlan(ctx, jdText, sessionID)
	return requirements, p
}

func (s *Service) extractRequirements(ctx context.Context, jdText string) []Requirement {
	if s.client != nil {
		reqs, err := s.extractViaModel(ctx, jdText)
		if err == nil && len(reqs) > 0 {
			return reqs
		}
		if err != nil {
			s.logger.Warn("requirement extraction failed, using heuristic extractor", slogError(err))
		}
	}
	return ExtractRequirementsHeuristic(jdText)
}

func (s *Service) extractViaModel(ctx context.Context, jdText string) ([]Requirement, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	raw, err := s.client.Complete(ctx, s.cfg.Model, extractionSystemPrompt, "Job Description:\n"+jdText, s.cfg.MaxTokens)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Requirements []requirementWire `json:"requirements"`
	}
	if err := json.Unmarshal(ExtractJSONBlock(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode requirements: %w", err)
	}
	requirements := make([]Requirement, 0, len(payload.Requirements))
	for i, wire := range payload.Requirements {
		requirements = append(requirements, wire.toRequirement(i))
	}
	return requirements, nil
}

func (s *Service) generatePlan(ctx context.Context, jdText, sessionID string) *Plan {
	if !s.cfg.Enabled || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	user := fmt.Sprintf("Session: %s\n\nJob Description:\n%s", sessionID, jdText)
	raw, err := s.client.Complete(ctx, s.cfg.Model, planSystemPrompt, user, s.cfg.MaxTokens)
	if err != nil {
		s.logger.Warn("plan generation failed, staying requirement-level", slogError(err))
		return nil
	}
	p, err := ParsePlan(ExtractJSONBlock(raw), s.clock())
	if err != nil {
		s.logger.Warn("plan response unusable, staying requirement-level", slogError(err))
		return nil
	}
	return p
}

func (s *Service) timeout() time.Duration {
	if s.cfg.TimeoutMS > 0 {
		return time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	}
	return 45 * time.Second
}

// ParsePlan decodes a plan response payload into a Plan.
func ParsePlan(data []byte, generatedAt time.Time) (*Plan, error) {
	var payload struct {
		Groups []groupWire `json:"groups"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(payload.Groups) == 0 {
		return nil, ErrNoGroups
	}
	p := &Plan{GeneratedAt: generatedAt}
	for i, wire := range payload.Groups {
		p.Groups = append(p.Groups, wire.toGroup(i))
	}
	return p, nil
}

// ExtractJSONBlock strips code fences and surrounding prose, keeping the
// outermost JSON object so lenient model output still decodes.
func ExtractJSONBlock(raw string) []byte {
	trimmed := strings.TrimSpace(raw)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	return []byte(trimmed)
}

// requirementWire tolerates both snake_case and the original camelCase keys.
type requirementWire struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Priority         string   `json:"priority"`
	Competencies     []string `json:"competencies"`
	MustHave         bool     `json:"mustHave"`
	NiceToHave       bool     `json:"niceToHave"`
	ProbingQuestions []string `json:"probingQuestions"`
}

func (w requirementWire) toRequirement(index int) Requirement {
	id := w.ID
	if id == "" {
		id = fmt.Sprintf("req-%d", index+1)
	}
	priority := PriorityMedium
	switch strings.ToLower(w.Priority) {
	case "low":
		priority = PriorityLow
	case "high":
		priority = PriorityHigh
	}
	return Requirement{
		ID:               id,
		Title:            w.Title,
		Description:      w.Description,
		Priority:         priority,
		Competencies:     w.Competencies,
		MustHave:         w.MustHave,
		NiceToHave:       w.NiceToHave,
		ProbingQuestions: w.ProbingQuestions,
	}
}

type groupWire struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Importance       string   `json:"importance"`
	Criteria         []string `json:"criteria"`
	SuccessSignals   []string `json:"successSignals"`
	RiskSignals      []string `json:"riskSignals"`
	ConflictSignals  []string `json:"conflictSignals"`
	ProbingQuestions []string `json:"probingQuestions"`
	SuccessSummary   string   `json:"successSummary"`
}

func (w groupWire) toGroup(index int) Group {
	id := w.ID
	if id == "" {
		id = fmt.Sprintf("group-%d", index+1)
	}
	importance := MustHave
	if strings.EqualFold(w.Importance, string(NiceToHave)) {
		importance = NiceToHave
	}
	return Group{
		ID:               id,
		Title:            w.Title,
		Importance:       importance,
		Criteria:         w.Criteria,
		SuccessSignals:   w.SuccessSignals,
		RiskSignals:      w.RiskSignals,
		ConflictSignals:  w.ConflictSignals,
		ProbingQuestions: w.ProbingQuestions,
		SuccessSummary:   w.SuccessSummary,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
