package service

import (
	"context"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"go.uber.org/zap"
)

// EligibleReviewers returns the channel members who are online and flagged
// as reviewers there, in the directory's membership order.
func (e *Engine) EligibleReviewers(ctx context.Context, s broker.Session, channel *model.Channel) ([]model.Person, error) {
	members, err := e.broker.ListChannelMemberIDs(ctx, channel.ExternalID)
	if err != nil {
		return nil, err
	}

	reviewers := make([]model.Person, 0, len(members))
	for _, id := range members {
		present, err := e.broker.Presence(ctx, id)
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}

		person, err := e.broker.ResolveOrCreatePerson(ctx, s, id)
		if err != nil {
			return nil, err
		}
		cfg, err := e.broker.ResolveOrCreateConfig(ctx, s, person, channel)
		if err != nil {
			return nil, err
		}
		if cfg.Reviewer {
			reviewers = append(reviewers, *person)
		}
	}

	e.log.Debug("EligibleReviewers: success",
		zap.String("channel", channel.ExternalID),
		zap.Int("members", len(members)),
		zap.Int("eligible", len(reviewers)))
	return reviewers, nil
}
