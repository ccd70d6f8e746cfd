package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"go.uber.org/zap"
)

const (
	channelColumns = `id, external_id, name, new_members_are_reviewers`
	configColumns  = `id, person_id, channel_id, reviewer, notify_on_assignment`
)

func (t *Tx) ChannelByExternalID(ctx context.Context, externalID string) (*model.Channel, error) {
	t.Log.Debug("ChannelByExternalID: start", zap.String("external_id", externalID))
	var c model.Channel
	if err := t.tx.GetContext(ctx, &c, `SELECT `+channelColumns+` FROM channels WHERE external_id=$1`, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			t.Log.Debug("ChannelByExternalID: not found", zap.String("external_id", externalID))
			return nil, model.ErrNotFound
		}
		t.Log.Error("ChannelByExternalID: query failed", zap.Error(err))
		return nil, err
	}
	return &c, nil
}

func (t *Tx) ChannelByID(ctx context.Context, id int64) (*model.Channel, error) {
	t.Log.Debug("ChannelByID: start", zap.Int64("id", id))
	var c model.Channel
	if err := t.tx.GetContext(ctx, &c, `SELECT `+channelColumns+` FROM channels WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		t.Log.Error("ChannelByID: query failed", zap.Error(err))
		return nil, err
	}
	return &c, nil
}

func (t *Tx) CreateChannel(ctx context.Context, c *model.Channel) error {
	t.Log.Debug("CreateChannel: start", zap.String("external_id", c.ExternalID))
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO channels(external_id, name, new_members_are_reviewers) VALUES($1,$2,$3) ON CONFLICT (external_id) DO NOTHING`,
		c.ExternalID, c.Name, c.NewMembersAreReviewers)
	if err != nil {
		t.Log.Error("CreateChannel: insert failed", zap.String("external_id", c.ExternalID), zap.Error(err))
		return err
	}
	stored, err := t.ChannelByExternalID(ctx, c.ExternalID)
	if err != nil {
		return err
	}
	*c = *stored
	t.Log.Debug("CreateChannel: success", zap.String("external_id", c.ExternalID), zap.Int64("id", c.ID))
	return nil
}

func (t *Tx) ConfigFor(ctx context.Context, personID, channelID int64) (*model.PersonChannelConfig, error) {
	t.Log.Debug("ConfigFor: start", zap.Int64("person_id", personID), zap.Int64("channel_id", channelID))
	var cfg model.PersonChannelConfig
	if err := t.tx.GetContext(ctx, &cfg,
		`SELECT `+configColumns+` FROM person_channel_config WHERE person_id=$1 AND channel_id=$2`, personID, channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		t.Log.Error("ConfigFor: query failed", zap.Error(err))
		return nil, err
	}
	return &cfg, nil
}

func (t *Tx) CreateConfig(ctx context.Context, c *model.PersonChannelConfig) error {
	t.Log.Debug("CreateConfig: start", zap.Int64("person_id", c.PersonID), zap.Int64("channel_id", c.ChannelID))
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO person_channel_config(person_id, channel_id, reviewer, notify_on_assignment) VALUES($1,$2,$3,$4)
		 ON CONFLICT (person_id, channel_id) DO NOTHING`,
		c.PersonID, c.ChannelID, c.Reviewer, c.NotifyOnAssignment)
	if err != nil {
		t.Log.Error("CreateConfig: insert failed", zap.Error(err))
		return err
	}
	stored, err := t.ConfigFor(ctx, c.PersonID, c.ChannelID)
	if err != nil {
		return err
	}
	*c = *stored
	return nil
}

func (t *Tx) UpdateConfig(ctx context.Context, c *model.PersonChannelConfig) error {
	t.Log.Debug("UpdateConfig: start", zap.Int64("id", c.ID))
	res, err := t.tx.ExecContext(ctx,
		`UPDATE person_channel_config SET reviewer=$2, notify_on_assignment=$3 WHERE id=$1`,
		c.ID, c.Reviewer, c.NotifyOnAssignment)
	if err != nil {
		t.Log.Error("UpdateConfig: update failed", zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	t.Log.Info("UpdateConfig: success", zap.Int64("id", c.ID), zap.Bool("reviewer", c.Reviewer), zap.Bool("notify", c.NotifyOnAssignment))
	return nil
}
