package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/api/apiErrors"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"
)

const (
	reviewCommand = "!review"
	// Slack retries events that are not answered within 3s, so the actual
	// work runs detached with its own deadline.
	reviewTimeout = 30 * time.Second

	retryHeader = "X-Slack-Retry-Num"
)

type Poster interface {
	Post(ctx context.Context, channelID, text string, blocks ...slack.Block) error
	PublishHome(ctx context.Context, userID string, blocks []slack.Block) error
}

type PRFinder interface {
	FindPRReference(text string) string
}

type SlackEvents struct {
	svc           *service.Service
	poster        Poster
	prs           PRFinder
	signingSecret string
	log           *zap.Logger

	wg       sync.WaitGroup
	dispatch func(func())
}

func NewSlackEvents(svc *service.Service, poster Poster, prs PRFinder, signingSecret string, logger *zap.Logger) *SlackEvents {
	h := &SlackEvents{
		svc:           svc,
		poster:        poster,
		prs:           prs,
		signingSecret: signingSecret,
		log:           logger,
	}
	h.dispatch = h.detach
	return h
}

func RegisterSlackRoutes(r chi.Router, h *SlackEvents) {
	r.Post("/slack/events", h.handleEvent)
	r.Post("/slack/interactions", h.handleInteraction)
}

// detach runs f after the response is written, tracked for Wait.
func (h *SlackEvents) detach(f func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		f()
	}()
}

// Wait blocks until all detached work has finished or ctx is done.
func (h *SlackEvents) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SlackEvents) verify(r *http.Request, body []byte) error {
	if h.signingSecret == "" {
		return nil
	}
	sv, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

// readVerified reads the body and checks the Slack signature, writing the
// error response itself when either fails.
func (h *SlackEvents) readVerified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, apiErrors.BadRequest, "unreadable body")
		return nil, false
	}
	if err := h.verify(r, body); err != nil {
		h.log.Warn("slack signature rejected", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusUnauthorized, apiErrors.Unauthorized, "bad signature")
		return nil, false
	}
	return body, true
}

func (h *SlackEvents) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r)
	if !ok {
		return
	}
	// The first delivery was already dispatched; a redelivery would assign twice.
	if retry := r.Header.Get(retryHeader); retry != "" {
		h.log.Info("ignoring slack redelivery",
			zap.String("retry", retry),
			zap.String("reason", r.Header.Get("X-Slack-Retry-Reason")))
		w.WriteHeader(http.StatusOK)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		h.log.Warn("unparseable slack event", zap.Error(err))
		writeError(w, http.StatusBadRequest, apiErrors.BadRequest, "invalid event")
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		challenge, ok := event.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			writeError(w, http.StatusBadRequest, apiErrors.BadRequest, "invalid challenge")
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
	case slackevents.CallbackEvent:
		switch inner := event.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			h.onMessage(inner)
		case *slackevents.AppHomeOpenedEvent:
			h.onHomeOpened(inner)
		}
		w.WriteHeader(http.StatusOK)
	default:
		h.log.Debug("ignoring slack event", zap.String("type", event.Type))
		w.WriteHeader(http.StatusOK)
	}
}

func (h *SlackEvents) onMessage(msg *slackevents.MessageEvent) {
	if msg.SubType != "" || msg.BotID != "" || msg.User == "" {
		return
	}
	if !strings.Contains(msg.Text, reviewCommand) {
		return
	}
	prURL := h.prs.FindPRReference(msg.Text)
	if prURL == "" {
		return
	}

	requestor, channel := msg.User, msg.Channel
	h.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), reviewTimeout)
		defer cancel()
		h.requestReview(ctx, requestor, channel, prURL)
	})
}

func (h *SlackEvents) onHomeOpened(ev *slackevents.AppHomeOpenedEvent) {
	if ev.User == "" {
		return
	}
	user := ev.User
	h.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), reviewTimeout)
		defer cancel()
		h.publishHome(ctx, user)
	})
}

func (h *SlackEvents) requestReview(ctx context.Context, requestor, channel, prURL string) {
	h.post(ctx, channel, fmt.Sprintf("Review request received for %s", prURL))

	res, err := h.svc.PerformAssignment(ctx, requestor, channel, prURL)
	if err != nil {
		h.log.Error("review request failed",
			zap.String("requestor", requestor),
			zap.String("channel", channel),
			zap.String("url", prURL),
			zap.Error(err))
		if errors.Is(err, model.ErrInvalidReference) {
			h.post(ctx, channel, fmt.Sprintf("%s doesn't look like a pull request", prURL))
			return
		}
		h.post(ctx, channel, fmt.Sprintf("Something went wrong assigning a reviewer for %s", prURL))
		return
	}
	h.announce(ctx, channel, requestor, res)
}

// announce posts the outcome of an assignment to channel: the informational
// messages, then either the errors or the reviewer line with its buttons.
func (h *SlackEvents) announce(ctx context.Context, channel, requestor string, res model.AssignmentResult) {
	for _, m := range res.Messages {
		h.post(ctx, channel, m)
	}
	if !res.Successful {
		for _, e := range res.Errors {
			h.post(ctx, channel, e)
		}
		return
	}

	prURL := res.Assignment.PRURL
	line := fmt.Sprintf("%s (<@%s>) to review %s", res.Reviewer.Name, res.Reviewer.ExternalID, prURL)
	h.post(ctx, channel, line, assignmentBlocks(line, *res.Assignment)...)
	if res.NotifyReviewer {
		h.post(ctx, res.Reviewer.ExternalID, fmt.Sprintf("<@%s> asked you to review %s", requestor, prURL))
	}
}

func (h *SlackEvents) handleInteraction(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r)
	if !ok {
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil || form.Get("payload") == "" {
		writeError(w, http.StatusBadRequest, apiErrors.BadRequest, "payload required")
		return
	}
	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(form.Get("payload")), &callback); err != nil {
		h.log.Warn("unparseable slack interaction", zap.Error(err))
		writeError(w, http.StatusBadRequest, apiErrors.BadRequest, "invalid payload")
		return
	}

	if callback.Type != slack.InteractionTypeBlockActions {
		h.log.Debug("ignoring slack interaction", zap.String("type", string(callback.Type)))
		w.WriteHeader(http.StatusOK)
		return
	}

	actor := callback.User.ID
	for _, action := range callback.ActionCallback.BlockActions {
		id, err := strconv.ParseInt(action.Value, 10, 64)
		if err != nil {
			h.log.Warn("block action without an assignment id",
				zap.String("action", action.ActionID),
				zap.String("value", action.Value))
			continue
		}
		actionID := action.ActionID
		h.dispatch(func() {
			ctx, cancel := context.WithTimeout(context.Background(), reviewTimeout)
			defer cancel()
			h.onAction(ctx, actionID, actor, id)
		})
	}
	w.WriteHeader(http.StatusOK)
}

// onAction applies a button press by actor. Failures, including someone
// other than the assignee pressing, change nothing and are only logged.
func (h *SlackEvents) onAction(ctx context.Context, action, actor string, assignmentID int64) {
	log := h.log.With(
		zap.String("action", action),
		zap.String("actor", actor),
		zap.Int64("assignment_id", assignmentID))

	var err error
	switch action {
	case ActionAcknowledge:
		err = h.svc.Acknowledge(ctx, assignmentID, actor)
	case ActionReviewed:
		err = h.svc.Complete(ctx, assignmentID, actor)
	case ActionReroll:
		err = h.reroll(ctx, assignmentID, actor)
	default:
		log.Debug("ignoring unknown block action")
		return
	}
	if err != nil {
		log.Warn("block action failed", zap.Error(err))
		return
	}
	log.Info("block action applied")
	h.publishHome(ctx, actor)
}

func (h *SlackEvents) reroll(ctx context.Context, assignmentID int64, actor string) error {
	res, err := h.svc.Reroll(ctx, assignmentID, actor)
	if err != nil {
		return err
	}
	h.post(ctx, res.ChannelID, fmt.Sprintf("Rerolling %s", res.PRURL))
	h.announce(ctx, res.ChannelID, actor, res)
	return nil
}

func (h *SlackEvents) publishHome(ctx context.Context, user string) {
	reviews, err := h.svc.ActiveAssignmentsFor(ctx, user)
	if err != nil {
		h.log.Error("loading home reviews failed", zap.String("user", user), zap.Error(err))
		return
	}
	if err := h.poster.PublishHome(ctx, user, homeBlocks(reviews)); err != nil {
		h.log.Error("slack home publish failed", zap.String("user", user), zap.Error(err))
	}
}

func (h *SlackEvents) post(ctx context.Context, channel, text string, blocks ...slack.Block) {
	if err := h.poster.Post(ctx, channel, text, blocks...); err != nil {
		h.log.Error("slack post failed", zap.String("channel", channel), zap.Error(err))
	}
}
