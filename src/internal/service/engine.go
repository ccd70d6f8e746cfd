package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"go.uber.org/zap"
)

// Engine picks a reviewer for one review request and stages the assignment.
// It never commits; the caller owns the session.
type Engine struct {
	broker *broker.Broker
	log    *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewEngine(b *broker.Broker, rnd *rand.Rand, logger *zap.Logger) *Engine {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		broker: b,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
		rnd:    rnd,
	}
}

func (e *Engine) Perform(ctx context.Context, s broker.Session, requestorID, channelID string, pr model.PullRequest) (model.AssignmentResult, error) {
	result := model.AssignmentResult{Messages: []string{}, Errors: []string{}}

	requestor, err := e.broker.ResolveOrCreatePerson(ctx, s, requestorID)
	if err != nil {
		return result, err
	}
	channel, err := e.broker.ResolveOrCreateChannel(ctx, s, channelID)
	if err != nil {
		return result, err
	}
	result.ChannelID = channel.ExternalID
	result.PRURL = pr.URL

	if requestor.CodeHostUsername == nil && pr.Author != "" {
		author := pr.Author
		requestor.CodeHostUsername = &author
		if err := s.UpdatePerson(ctx, requestor); err != nil {
			return result, err
		}
		result.Messages = append(result.Messages, fmt.Sprintf("Assuming that %s is %s on github", requestor.Name, author))
	}

	eligible, err := e.EligibleReviewers(ctx, s, channel)
	if err != nil {
		return result, err
	}

	existing, err := e.broker.FindAssignmentsByPRReference(ctx, s, pr.URL)
	if err != nil {
		return result, err
	}
	assigned := make(map[int64]struct{}, len(existing))
	for _, a := range existing {
		assigned[a.AssigneeID] = struct{}{}
	}

	candidates := make([]model.Person, 0, len(eligible))
	for _, p := range eligible {
		if p.ID == requestor.ID {
			continue
		}
		if p.CodeHostUsername != nil && *p.CodeHostUsername == pr.Author {
			continue
		}
		if _, ok := assigned[p.ID]; ok {
			continue
		}
		candidates = append(candidates, p)
	}

	if len(candidates) == 0 {
		e.log.Info("Perform: no eligible reviewers", zap.String("pr_url", pr.URL), zap.String("channel", channelID))
		result.Errors = append(result.Errors, fmt.Sprintf("No eligible reviewers for %s", pr.URL))
		return result, nil
	}

	reviewer := candidates[e.pick(len(candidates))]
	channelRef := channel.ID
	assignment := &model.AssignedReview{
		AssigneeID:  reviewer.ID,
		RequestorID: requestor.ID,
		ChannelID:   &channelRef,
		PRURL:       pr.URL,
		AssignedAt:  e.now(),
	}
	if err := s.CreateAssignment(ctx, assignment); err != nil {
		return result, err
	}

	cfg, err := e.broker.ResolveOrCreateConfig(ctx, s, &reviewer, channel)
	if err != nil {
		return result, err
	}

	e.log.Info("Perform: assigned",
		zap.String("pr_url", pr.URL),
		zap.String("reviewer", reviewer.ExternalID),
		zap.String("requestor", requestor.ExternalID),
		zap.Int("candidates", len(candidates)))

	result.Successful = true
	result.Reviewer = &reviewer
	result.Assignment = assignment
	result.NotifyReviewer = cfg.NotifyOnAssignment
	return result, nil
}

func (e *Engine) pick(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rnd.Intn(n)
}
