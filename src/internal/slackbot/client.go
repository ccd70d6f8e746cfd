// Package slackbot adapts the Slack Web API to the directory, presence and
// messaging needs of the reviewer bot.
package slackbot

import (
	"context"
	"errors"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const membersPageSize = 200

type Client struct {
	api *slack.Client
	log *zap.Logger
}

func New(token string, logger *zap.Logger, opts ...slack.Option) *Client {
	return &Client{api: slack.New(token, opts...), log: logger}
}

func isSlackError(err error, codes ...string) bool {
	var se slack.SlackErrorResponse
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.Err == c {
			return true
		}
	}
	return false
}

func (c *Client) UserProfile(ctx context.Context, externalID string) (*broker.UserProfile, error) {
	u, err := c.api.GetUserInfoContext(ctx, externalID)
	if isSlackError(err, "user_not_found", "users_not_found") {
		c.log.Debug("UserProfile: not found", zap.String("user", externalID))
		return nil, nil
	}
	if err != nil {
		c.log.Error("UserProfile: request failed", zap.String("user", externalID), zap.Error(err))
		return nil, err
	}
	name := u.RealName
	if name == "" {
		name = u.Profile.RealName
	}
	if name == "" {
		name = u.Name
	}
	return &broker.UserProfile{DisplayName: name, Email: u.Profile.Email}, nil
}

func (c *Client) ChannelInfo(ctx context.Context, externalID string) (*broker.ChannelInfo, error) {
	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: externalID})
	if isSlackError(err, "channel_not_found") {
		c.log.Debug("ChannelInfo: not found", zap.String("channel", externalID))
		return nil, nil
	}
	if err != nil {
		c.log.Error("ChannelInfo: request failed", zap.String("channel", externalID), zap.Error(err))
		return nil, err
	}
	return &broker.ChannelInfo{Name: ch.Name}, nil
}

func (c *Client) ChannelMembers(ctx context.Context, channelExternalID, cursor string) ([]string, string, error) {
	members, next, err := c.api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
		ChannelID: channelExternalID,
		Cursor:    cursor,
		Limit:     membersPageSize,
	})
	if err != nil {
		c.log.Error("ChannelMembers: request failed", zap.String("channel", channelExternalID), zap.Error(err))
		return nil, "", err
	}
	return members, next, nil
}

// UserPresence returns Slack's raw presence value ("active" or "away").
func (c *Client) UserPresence(ctx context.Context, externalID string) (string, error) {
	p, err := c.api.GetUserPresenceContext(ctx, externalID)
	if err != nil {
		c.log.Error("UserPresence: request failed", zap.String("user", externalID), zap.Error(err))
		return "", err
	}
	return p.Presence, nil
}

// Post sends a message. A user id as channel opens a DM. When blocks are
// given the text is only the notification fallback.
func (c *Client) Post(ctx context.Context, channelID, text string, blocks ...slack.Block) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	_, _, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		c.log.Error("Post: request failed", zap.String("channel", channelID), zap.Error(err))
		return err
	}
	return nil
}

// PublishHome replaces the App Home tab of userID.
func (c *Client) PublishHome(ctx context.Context, userID string, blocks []slack.Block) error {
	view := slack.HomeTabViewRequest{Type: slack.VTHomeTab, Blocks: slack.Blocks{BlockSet: blocks}}
	if _, err := c.api.PublishViewContext(ctx, userID, view, ""); err != nil {
		c.log.Error("PublishHome: request failed", zap.String("user", userID), zap.Error(err))
		return err
	}
	return nil
}
