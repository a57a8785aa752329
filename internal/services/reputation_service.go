package services

import (
	"context"

	"go-backend/internal/models"
	"go-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

const defaultLeaderboardLimit = 20

// ReputationService maintains transporter delivery statistics and the
// exponentially-weighted reputation score used for ranking and selection.
type ReputationService struct {
	transporters repository.TransporterRepository
	alpha        float64
	log          *logrus.Entry
}

// NewReputationService creates a ReputationService. alpha is the EWMA weight
// given to the most recent outcome, in (0, 1].
func NewReputationService(transporters repository.TransporterRepository, alpha float64) *ReputationService {
	return &ReputationService{
		transporters: transporters,
		alpha:        alpha,
		log:          logrus.WithField("component", "reputation_service"),
	}
}

// RecordOutcome folds one delivery outcome into the transporter's record.
// The score is recency-biased and always stays within [0, 1].
func (s *ReputationService) RecordOutcome(ctx context.Context, address string, success bool) error {
	record, err := s.transporters.GetOrCreate(ctx, address)
	if err != nil {
		return err
	}

	record.TotalDeliveries++
	outcome := 0.0
	if success {
		record.SuccessfulDeliveries++
		outcome = 1.0
	}

	record.ReputationScore = s.alpha*outcome + (1-s.alpha)*record.ReputationScore
	if record.ReputationScore < 0 {
		record.ReputationScore = 0
	}
	if record.ReputationScore > 1 {
		record.ReputationScore = 1
	}

	if err := s.transporters.Update(ctx, record); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"address": address,
		"success": success,
		"score":   record.ReputationScore,
	}).Debug("recorded delivery outcome")
	return nil
}

// Leaderboard returns transporters ranked by score, delivery volume, then
// address.
func (s *ReputationService) Leaderboard(ctx context.Context, limit int) ([]*models.TransporterRecord, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	return s.transporters.Leaderboard(ctx, limit)
}

// SelectTransporters picks the top-ranked available transporters for a route.
// Returns fewer than count when not enough are available.
func (s *ReputationService) SelectTransporters(ctx context.Context, count int) ([]string, error) {
	ranked, err := s.transporters.Leaderboard(ctx, count*4)
	if err != nil {
		return nil, err
	}
	selected := make([]string, 0, count)
	for _, record := range ranked {
		if record.Status != models.TransporterStatusAvailable {
			continue
		}
		selected = append(selected, record.Address)
		if len(selected) == count {
			break
		}
	}
	return selected, nil
}

// SetAvailability flips a transporter between available and busy.
func (s *ReputationService) SetAvailability(ctx context.Context, address string, status models.TransporterStatus) error {
	return s.transporters.SetStatus(ctx, address, status)
}
