package service

import (
	"context"
	"time"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"go.uber.org/zap"
)

// Lifecycle moves a stored assignment through acknowledge, reroll and
// complete. Only the assignee may act, and a set timestamp is never changed.
type Lifecycle struct {
	engine *Engine
	host   CodeHost
	log    *zap.Logger
	now    func() time.Time
}

func NewLifecycle(engine *Engine, host CodeHost, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		engine: engine,
		host:   host,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// authorize loads the assignment and checks that actorID is its assignee.
func (l *Lifecycle) authorize(ctx context.Context, s broker.Session, assignmentID int64, actorID, action string) (*model.AssignedReview, error) {
	a, err := l.engine.broker.FindAssignmentByID(ctx, s, assignmentID)
	if err != nil {
		return nil, err
	}
	assignee, err := s.PersonByID(ctx, a.AssigneeID)
	if err != nil {
		return nil, err
	}
	if assignee.ExternalID != actorID {
		l.log.Warn("rejecting action from someone other than the assignee",
			zap.String("action", action),
			zap.Int64("assignment_id", assignmentID),
			zap.String("actor", actorID),
			zap.String("assignee", assignee.ExternalID))
		return nil, model.ErrForbidden
	}
	return a, nil
}

func (l *Lifecycle) Acknowledge(ctx context.Context, s broker.Session, assignmentID int64, actorID string) error {
	a, err := l.authorize(ctx, s, assignmentID, actorID, "acknowledge")
	if err != nil {
		return err
	}
	if a.AcknowledgedAt != nil {
		return nil
	}
	now := l.now()
	a.AcknowledgedAt = &now
	if err := s.UpdateAssignment(ctx, a); err != nil {
		return err
	}
	l.log.Info("acknowledged", zap.Int64("assignment_id", a.ID), zap.String("pr_url", a.PRURL))
	return nil
}

func (l *Lifecycle) Complete(ctx context.Context, s broker.Session, assignmentID int64, actorID string) error {
	a, err := l.authorize(ctx, s, assignmentID, actorID, "complete")
	if err != nil {
		return err
	}
	if a.CompletedAt != nil {
		return nil
	}
	now := l.now()
	a.CompletedAt = &now
	if err := s.UpdateAssignment(ctx, a); err != nil {
		return err
	}
	l.log.Info("completed", zap.Int64("assignment_id", a.ID), zap.String("pr_url", a.PRURL))
	return nil
}

// Reroll asks the engine for a fresh reviewer on behalf of the original
// requestor. The original row is marked rerolled only when someone new was
// found; an unsuccessful result is returned as-is with no state change.
func (l *Lifecycle) Reroll(ctx context.Context, s broker.Session, assignmentID int64, actorID string) (model.AssignmentResult, error) {
	a, err := l.authorize(ctx, s, assignmentID, actorID, "reroll")
	if err != nil {
		return model.AssignmentResult{}, err
	}
	if a.RerolledAt != nil {
		return model.AssignmentResult{}, model.ErrAlreadyRerolled
	}
	if a.ChannelID == nil {
		return model.AssignmentResult{}, model.ErrNotFound
	}

	requestor, err := s.PersonByID(ctx, a.RequestorID)
	if err != nil {
		return model.AssignmentResult{}, err
	}
	channel, err := s.ChannelByID(ctx, *a.ChannelID)
	if err != nil {
		return model.AssignmentResult{}, err
	}
	pr, err := l.host.FetchPR(ctx, a.PRURL)
	if err != nil {
		return model.AssignmentResult{}, err
	}
	// Keep the stored reference so the already-assigned filter sees the original row.
	pr.URL = a.PRURL

	result, err := l.engine.Perform(ctx, s, requestor.ExternalID, channel.ExternalID, pr)
	if err != nil || !result.Successful {
		return result, err
	}

	now := l.now()
	a.RerolledAt = &now
	if err := s.UpdateAssignment(ctx, a); err != nil {
		return model.AssignmentResult{}, err
	}
	l.log.Info("rerolled",
		zap.Int64("assignment_id", a.ID),
		zap.String("pr_url", a.PRURL),
		zap.String("new_reviewer", result.Reviewer.ExternalID))
	return result, nil
}
