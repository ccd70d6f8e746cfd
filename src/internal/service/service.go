package service

import (
	"context"
	"math/rand"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/store"

	"go.uber.org/zap"
)

// SessionRunner runs fn in its own unit of work, committing when it returns nil.
type SessionRunner interface {
	WithSession(ctx context.Context, fn func(store.Session) error) error
}

type CodeHost interface {
	LooksLikePRReference(text string) bool
	FetchPR(ctx context.Context, reference string) (model.PullRequest, error)
	ValidUsername(name string) bool
}

type Service struct {
	runner       SessionRunner
	broker       *broker.Broker
	engine       *Engine
	lifecycle    *Lifecycle
	host         CodeHost
	deletePolicy model.DeletePolicy
	log          *zap.Logger
}

type Stats struct {
	AssigneeAssignments map[string]int `json:"assignee_assignments"`
	PRAssignments       map[string]int `json:"pr_assignments"`
}

func NewService(runner SessionRunner, b *broker.Broker, host CodeHost, deletePolicy model.DeletePolicy, rnd *rand.Rand, logger *zap.Logger) *Service {
	engine := NewEngine(b, rnd, logger)
	return &Service{
		runner:       runner,
		broker:       b,
		engine:       engine,
		lifecycle:    NewLifecycle(engine, host, logger),
		host:         host,
		deletePolicy: deletePolicy,
		log:          logger,
	}
}

// PerformAssignment validates and looks up the PR before opening a session,
// then assigns a reviewer while holding a lock on the PR url.
func (s *Service) PerformAssignment(ctx context.Context, requestorID, channelID, prRef string) (model.AssignmentResult, error) {
	if !s.host.LooksLikePRReference(prRef) {
		return model.AssignmentResult{}, model.ErrInvalidReference
	}
	pr, err := s.host.FetchPR(ctx, prRef)
	if err != nil {
		return model.AssignmentResult{}, err
	}

	var result model.AssignmentResult
	err = s.runner.WithSession(ctx, func(tx store.Session) error {
		if err := tx.LockPRReference(ctx, pr.URL); err != nil {
			return err
		}
		r, err := s.engine.Perform(ctx, tx, requestorID, channelID, pr)
		result = r
		return err
	})
	if err != nil {
		return model.AssignmentResult{}, err
	}
	return result, nil
}

func (s *Service) Acknowledge(ctx context.Context, assignmentID int64, actorID string) error {
	return s.runner.WithSession(ctx, func(tx store.Session) error {
		return s.lifecycle.Acknowledge(ctx, tx, assignmentID, actorID)
	})
}

func (s *Service) Complete(ctx context.Context, assignmentID int64, actorID string) error {
	return s.runner.WithSession(ctx, func(tx store.Session) error {
		return s.lifecycle.Complete(ctx, tx, assignmentID, actorID)
	})
}

func (s *Service) Reroll(ctx context.Context, assignmentID int64, actorID string) (model.AssignmentResult, error) {
	var result model.AssignmentResult
	err := s.runner.WithSession(ctx, func(tx store.Session) error {
		a, err := s.broker.FindAssignmentByID(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if err := tx.LockPRReference(ctx, a.PRURL); err != nil {
			return err
		}
		r, err := s.lifecycle.Reroll(ctx, tx, assignmentID, actorID)
		result = r
		return err
	})
	if err != nil {
		return model.AssignmentResult{}, err
	}
	return result, nil
}

func (s *Service) EligibleReviewers(ctx context.Context, channelID string) ([]model.Person, error) {
	var reviewers []model.Person
	err := s.runner.WithSession(ctx, func(tx store.Session) error {
		channel, err := s.broker.ResolveOrCreateChannel(ctx, tx, channelID)
		if err != nil {
			return err
		}
		reviewers, err = s.engine.EligibleReviewers(ctx, tx, channel)
		return err
	})
	return reviewers, err
}

func (s *Service) ActiveAssignmentsFor(ctx context.Context, personID string) ([]model.AssignedReview, error) {
	var reviews []model.AssignedReview
	err := s.runner.WithSession(ctx, func(tx store.Session) error {
		var err error
		reviews, err = s.broker.FindActiveAssignmentsForPerson(ctx, tx, personID)
		return err
	})
	return reviews, err
}

func (s *Service) SetCodeHostUsername(ctx context.Context, personID, username string) (model.Person, error) {
	if !s.host.ValidUsername(username) {
		return model.Person{}, model.ErrInvalidUsername
	}
	var person model.Person
	err := s.runner.WithSession(ctx, func(tx store.Session) error {
		p, err := s.broker.ResolveOrCreatePerson(ctx, tx, personID)
		if err != nil {
			return err
		}
		p.CodeHostUsername = &username
		if err := tx.UpdatePerson(ctx, p); err != nil {
			return err
		}
		person = *p
		return nil
	})
	if err != nil {
		return model.Person{}, err
	}
	s.log.Info("SetCodeHostUsername: success", zap.String("person", personID), zap.String("username", username))
	return person, nil
}

func (s *Service) SetChannelPreferences(ctx context.Context, personID, channelID string, reviewer, notify bool) (model.PersonChannelConfig, error) {
	var cfg model.PersonChannelConfig
	err := s.runner.WithSession(ctx, func(tx store.Session) error {
		p, err := s.broker.ResolveOrCreatePerson(ctx, tx, personID)
		if err != nil {
			return err
		}
		ch, err := s.broker.ResolveOrCreateChannel(ctx, tx, channelID)
		if err != nil {
			return err
		}
		c, err := s.broker.ResolveOrCreateConfig(ctx, tx, p, ch)
		if err != nil {
			return err
		}
		c.Reviewer = reviewer
		c.NotifyOnAssignment = notify
		if err := tx.UpdateConfig(ctx, c); err != nil {
			return err
		}
		cfg = *c
		return nil
	})
	if err != nil {
		return model.PersonChannelConfig{}, err
	}
	return cfg, nil
}

// DeletePerson removes a person and their channel configs. Their review
// history blocks the delete under the restrict policy and is removed with
// them under the cascade policy.
func (s *Service) DeletePerson(ctx context.Context, personID string) error {
	return s.runner.WithSession(ctx, func(tx store.Session) error {
		p, err := tx.PersonByExternalID(ctx, personID)
		if err != nil {
			return err
		}
		n, err := tx.CountReviewsInvolving(ctx, p.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			if s.deletePolicy != model.DeleteCascade {
				s.log.Info("DeletePerson: refused, person has reviews", zap.String("person", personID), zap.Int("reviews", n))
				return model.ErrPersonHasReviews
			}
			if err := tx.DeleteReviewsInvolving(ctx, p.ID); err != nil {
				return err
			}
		}
		return tx.DeletePerson(ctx, p.ID)
	})
}

func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.runner.WithSession(ctx, func(tx store.Session) error {
		perAssignee, err := tx.AssignmentsPerAssignee(ctx)
		if err != nil {
			return err
		}
		perPR, err := tx.AssignmentsPerPR(ctx)
		if err != nil {
			return err
		}
		stats = Stats{AssigneeAssignments: perAssignee, PRAssignments: perPR}
		return nil
	})
	return stats, err
}
