// Package session is the externally callable surface of the pipeline.
// It owns sequencing enforcement across gates, generation, and
// delivery; transports stay thin adapters over it.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"scrapeforge/internal/assertion"
	"scrapeforge/internal/gate"
	"scrapeforge/internal/pipeline"
	"scrapeforge/internal/store"
)

// Service coordinates the store, the gate rules, and the background
// refinement loop.
type Service struct {
	store   *store.Store
	manager *pipeline.Manager
	logger  *zap.Logger
}

// NewService wires the façade.
func NewService(st *store.Store, manager *pipeline.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, manager: manager, logger: logger}
}

// CreateSession starts a new engagement.
func (s *Service) CreateSession(targetURL, objective string) (*store.Session, error) {
	if strings.TrimSpace(targetURL) == "" {
		return nil, fmt.Errorf("target URL is required")
	}
	if strings.TrimSpace(objective) == "" {
		return nil, fmt.Errorf("objective is required")
	}
	return s.store.CreateSession(targetURL, objective)
}

// GetSession loads one session.
func (s *Service) GetSession(id string) (*store.Session, error) {
	return s.store.GetSession(id)
}

// GenerateSpec renders the scraper specification from the session's
// exploration artifact and opens the EXPLORATION_SUMMARY gate carrying
// it. A non-empty exploration replaces the stored artifact first.
func (s *Service) GenerateSpec(sessionID, exploration string) (*gate.Gate, error) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if exploration != "" {
		if err := s.store.SetExploration(sessionID, exploration); err != nil {
			return nil, err
		}
		sess.Exploration = exploration
	}
	if strings.TrimSpace(sess.Exploration) == "" {
		return nil, fmt.Errorf("%w: specification requires an exploration artifact", gate.ErrSequencingViolation)
	}

	snap, err := s.snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	if err := snap.CheckOpen(gate.KindExplorationSummary); err != nil {
		return nil, err
	}

	spec := renderSpecification(sess)
	if err := s.store.SetSpecification(sessionID, spec); err != nil {
		return nil, err
	}
	return s.store.OpenGate(sessionID, gate.KindExplorationSummary, spec)
}

// DecideGate applies an approve/reject decision to the latest gate of
// the kind. Approving SCRAPER_GENERATION opens the FINAL_DELIVERY gate;
// approving FINAL_DELIVERY marks the passing version APPROVED.
func (s *Service) DecideGate(sessionID string, kind gate.Kind, action gate.Action, actor, feedback string) (*gate.Gate, error) {
	snap, err := s.snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	g, err := snap.CheckDecide(kind)
	if err != nil {
		return nil, err
	}
	if err := g.Apply(action, actor, feedback, time.Now().UTC()); err != nil {
		return nil, err
	}
	// An approval whose side effect cannot happen is refused before
	// anything is persisted; the gate stays pending and the caller can
	// reject it and regenerate.
	if g.Status == gate.StatusApproved &&
		(kind == gate.KindScraperGeneration || kind == gate.KindFinalDelivery) {
		if _, err := s.candidate(sessionID); err != nil {
			return nil, err
		}
	}
	if err := s.store.DecideGate(g); err != nil {
		return nil, err
	}

	switch {
	case g.Status == gate.StatusApproved && kind == gate.KindScraperGeneration:
		if err := s.openDeliveryGate(sessionID, ""); err != nil {
			return nil, err
		}
	case g.Status == gate.StatusApproved && kind == gate.KindFinalDelivery:
		if err := s.approveCandidate(sessionID); err != nil {
			return nil, err
		}
	case g.Status == gate.StatusRejected && kind == gate.KindFinalDelivery:
		// The rejected row stays as the audit trail; a fresh PENDING
		// gate supersedes it so the session does not dead-end.
		if err := s.openDeliveryGate(sessionID, feedback); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// GenerateScraper kicks off the background refinement loop. The ack
// returns immediately; the SCRAPER_GENERATION gate opens when the loop
// finishes with at least one recorded version. maxIterations below 1
// uses the configured budget.
func (s *Service) GenerateScraper(sessionID string, assertions []assertion.Assertion, maxIterations int) (*Ack, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	if err := snap.CheckOpen(gate.KindScraperGeneration); err != nil {
		return nil, err
	}

	err = s.manager.Start(sessionID, assertions, maxIterations, func(outcome *pipeline.Outcome, err error) {
		if err != nil {
			// Upstream failure or cancellation: no version to review,
			// so no gate opens. The session carries the failed status.
			return
		}
		if gerr := s.openGenerationGate(sessionID, outcome); gerr != nil {
			s.logger.Error("failed to open generation gate",
				zap.String("session_id", sessionID), zap.Error(gerr))
		}
	})
	if err != nil {
		return nil, err
	}
	return &Ack{SessionID: sessionID, Status: "generating"}, nil
}

// Ack is the immediate response to an async generation request.
type Ack struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// ScraperView is the session's current scraper state, including the
// full gate audit trail so a polling client can see what is pending.
type ScraperView struct {
	Generating bool              `json:"generating"`
	Scraper    *store.Scraper    `json:"scraper,omitempty"`
	TestResult *store.TestResult `json:"test_result,omitempty"`
	Gates      []gate.Gate       `json:"approval_gates"`
}

// GetScraper returns the latest version, its test result, and the
// session's gates, plus whether a loop is still in flight.
func (s *Service) GetScraper(sessionID string) (*ScraperView, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	gates, err := s.store.ListGates(sessionID)
	if err != nil {
		return nil, err
	}
	view := &ScraperView{Generating: s.manager.Running(sessionID), Gates: gates}

	sc, err := s.store.LatestScraper(sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	view.Scraper = sc

	result, err := s.store.TestResultFor(sc.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	view.TestResult = result
	return view, nil
}

// CancelGeneration stops the session's in-flight refinement loop.
// It reports whether a loop was actually running; the loop observes
// the cancellation at its next iteration boundary.
func (s *Service) CancelGeneration(sessionID string) (bool, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return false, err
	}
	return s.manager.Cancel(sessionID), nil
}

// GetDiffs returns the derived iteration history.
func (s *Service) GetDiffs(sessionID string) ([]store.Diff, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.store.Diffs(sessionID)
}

// Download builds the delivery package. It requires the FINAL_DELIVERY
// gate to be approved; there are no partial packages.
func (s *Service) Download(sessionID string) ([]byte, string, error) {
	snap, err := s.snapshot(sessionID)
	if err != nil {
		return nil, "", err
	}
	if !snap.Approved(gate.KindFinalDelivery) {
		return nil, "", fmt.Errorf("%w: download requires final delivery approval", gate.ErrSequencingViolation)
	}

	sc, err := s.store.ApprovedScraper(sessionID)
	if err != nil {
		return nil, "", err
	}
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, "", err
	}
	result, err := s.store.TestResultFor(sc.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", err
	}

	data, err := buildPackage(sess, sc, result)
	if err != nil {
		return nil, "", err
	}
	name := fmt.Sprintf("scraper_%s_v%d.zip", shortID(sessionID), sc.Version)
	return data, name, nil
}

func (s *Service) snapshot(sessionID string) (gate.Snapshot, error) {
	gates, err := s.store.ListGates(sessionID)
	if err != nil {
		return nil, err
	}
	return gate.BuildSnapshot(gates), nil
}

// openGenerationGate runs on the loop goroutine after an outcome is
// persisted.
func (s *Service) openGenerationGate(sessionID string, outcome *pipeline.Outcome) error {
	snap, err := s.snapshot(sessionID)
	if err != nil {
		return err
	}
	if err := snap.CheckOpen(gate.KindScraperGeneration); err != nil {
		return err
	}
	sc, err := s.store.ScraperByVersion(sessionID, outcome.Version)
	if err != nil {
		return err
	}
	result, err := s.store.TestResultFor(sc.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err = s.store.OpenGate(sessionID, gate.KindScraperGeneration, scraperSummary(outcome, sc, result))
	return err
}

func (s *Service) openDeliveryGate(sessionID, priorFeedback string) error {
	sc, err := s.candidate(sessionID)
	if err != nil {
		return err
	}
	summary := deliverySummary(sc)
	if priorFeedback != "" {
		summary += fmt.Sprintf("\n**Previous rejection:** %s\n", priorFeedback)
	}
	_, err = s.store.OpenGate(sessionID, gate.KindFinalDelivery, summary)
	return err
}

func (s *Service) approveCandidate(sessionID string) error {
	sc, err := s.candidate(sessionID)
	if err != nil {
		return err
	}
	return s.store.UpdateScraperStatus(sc.ID, store.ScraperApproved)
}

// candidate is the version eligible for delivery: the latest one with a
// passing test run.
func (s *Service) candidate(sessionID string) (*store.Scraper, error) {
	scrapers, err := s.store.ScrapersBySession(sessionID)
	if err != nil {
		return nil, err
	}
	for i := len(scrapers) - 1; i >= 0; i-- {
		if scrapers[i].Status == store.ScraperTestedPass || scrapers[i].Status == store.ScraperApproved {
			return &scrapers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no passing scraper version to deliver", gate.ErrSequencingViolation)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
