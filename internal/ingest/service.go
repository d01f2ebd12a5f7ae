// Package ingest subscribes to transcript and job-description subjects and
// feeds the two evaluation paths: the synchronous evidence tracker for
// sub-second feedback, and the batched orchestrator for model verdicts.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/bus"
	"github.com/fitsignal/fitsignal-core/internal/evidence"
	"github.com/fitsignal/fitsignal-core/internal/orchestrator"
	"github.com/fitsignal/fitsignal-core/internal/plan"
	"github.com/fitsignal/fitsignal-core/internal/protocol"
	"github.com/fitsignal/fitsignal-core/internal/reasoning"
	"github.com/fitsignal/fitsignal-core/internal/statestore"
	"github.com/nats-io/nats.go"
)

type Service struct {
	bus          *bus.Client
	logger       *slog.Logger
	tracker      *evidence.Tracker
	aggregator   *reasoning.Aggregator
	orchestrator *orchestrator.Orchestrator
	planner      *plan.Service
	store        *statestore.Store
	subFragments *nats.Subscription
	subJD        *nats.Subscription
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewService(
	parent context.Context,
	busClient *bus.Client,
	tracker *evidence.Tracker,
	aggregator *reasoning.Aggregator,
	orch *orchestrator.Orchestrator,
	planner *plan.Service,
	store *statestore.Store,
	logger *slog.Logger,
) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:          busClient,
		logger:       logger.With(slog.String("component", "ingest")),
		tracker:      tracker,
		aggregator:   aggregator,
		orchestrator: orch,
		planner:      planner,
		store:        store,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFragment, s.handleFragment)
	if err != nil {
		return err
	}
	s.subFragments = sub

	subJD, err := s.bus.Conn().Subscribe(protocol.SubjectJDSet, s.handleJD)
	if err != nil {
		s.subFragments.Drain()
		return err
	}
	s.subJD = subJD
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subFragments != nil {
		_ = s.subFragments.Drain()
	}
	if s.subJD != nil {
		_ = s.subJD.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.subFragments != nil && s.subJD != nil
}

// handleFragment runs the sync evidence path inline, then hands the fragment
// to the batch queue.
func (s *Service) handleFragment(msg *nats.Msg) {
	var frag protocol.TranscriptFragment
	if err := json.Unmarshal(msg.Data, &frag); err != nil {
		s.logger.Warn("failed to decode transcript fragment", slogError(err))
		return
	}
	if frag.SessionID == "" || frag.Text == "" {
		return
	}

	touched := s.tracker.RecordFragment(frag)
	if len(touched) > 0 {
		snapshot := s.tracker.Snapshot(frag.SessionID)
		update := s.aggregator.HandleEvidenceUpdate(frag.SessionID, snapshot)
		s.publishEvidenceUpdate(frag, update)
	}

	if err := s.orchestrator.EnqueueChunk(frag); err != nil {
		s.logger.Warn("failed to enqueue chunk", slog.String("session_id", frag.SessionID), slogError(err))
	}
}

func (s *Service) publishEvidenceUpdate(frag protocol.TranscriptFragment, update reasoning.Update) {
	evidenceUpdate := protocol.EvidenceUpdate{
		SessionID:  frag.SessionID,
		ChunkID:    frag.ChunkID,
		OverallFit: update.OverallFit,
		Timestamp:  time.Now().UTC(),
	}
	for _, summary := range update.Summaries {
		evidenceUpdate.Requirements = append(evidenceUpdate.Requirements, protocol.RequirementVerdict{
			ID:               summary.ID,
			Title:            summary.Title,
			Verdict:          string(summary.Verdict),
			Confidence:       summary.Confidence,
			FollowUpQuestion: summary.FollowUpQuestion,
			MustHave:         summary.MustHave,
		})
	}
	if err := s.bus.PublishJSON(protocol.SubjectStateChanged, evidenceUpdate); err != nil {
		s.logger.Warn("failed to publish evidence update", slogError(err))
	}

	for _, prompt := range update.Guidance {
		if err := s.bus.PublishJSON(protocol.SubjectGuidance, prompt); err != nil {
			s.logger.Warn("failed to publish guidance", slogError(err))
			continue
		}
		s.appendEvent(prompt.SessionID, statestore.EventGuidance, prompt)
	}
}

// handleJD extracts requirements from raw JD text, builds the assessment plan,
// and swaps both into every pipeline stage. Extraction can take a model round
// trip, so it runs off the subscription goroutine.
func (s *Service) handleJD(msg *nats.Msg) {
	var jd protocol.JDUpdate
	if err := json.Unmarshal(msg.Data, &jd); err != nil {
		s.logger.Warn("failed to decode jd update", slogError(err))
		return
	}
	if jd.Text == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.applyJD(jd)
	}()
}

func (s *Service) applyJD(jd protocol.JDUpdate) {
	requirements, assessmentPlan := s.planner.BuildJD(s.ctx, jd.Text, jd.SessionID)

	s.tracker.SetRequirements(requirements)
	s.aggregator.SetRequirements(requirements)
	s.orchestrator.SetActivePlan(s.ctx, assessmentPlan)

	updated := protocol.JDUpdated{
		SessionID:    jd.SessionID,
		Requirements: len(requirements),
		PlanReady:    assessmentPlan != nil,
		Timestamp:    time.Now().UTC(),
	}
	if assessmentPlan != nil {
		updated.Groups = len(assessmentPlan.Groups)
		if payload, err := json.Marshal(assessmentPlan); err == nil {
			sessionID := jd.SessionID
			if sessionID == "" {
				sessionID = "global"
			}
			if err := s.store.SaveState(s.ctx, sessionID, statestore.KindPlan, 0, payload); err != nil {
				s.logger.Warn("failed to persist plan", slogError(err))
			}
		}
	}
	if err := s.bus.PublishJSON(protocol.SubjectJDUpdated, updated); err != nil {
		s.logger.Warn("failed to publish jd updated", slogError(err))
	}
	s.appendEvent(jd.SessionID, statestore.EventJDUpdated, updated)

	s.logger.Info("jd applied",
		slog.Int("requirements", len(requirements)),
		slog.Bool("plan_ready", assessmentPlan != nil))
}

func (s *Service) appendEvent(sessionID, eventType string, payload any) {
	if sessionID == "" {
		sessionID = "global"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.store.AppendEvent(s.ctx, statestore.Event{SessionID: sessionID, Type: eventType, Payload: data}); err != nil {
		s.logger.Warn("failed to append event", slog.String("event_type", eventType), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
