package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"go.uber.org/zap"
)

const reviewColumns = `id, assignee_id, requestor_id, channel_id, pr_url, assigned_at, acknowledged_at, rerolled_at, completed_at`

func (t *Tx) AssignmentsByPRURL(ctx context.Context, prURL string) ([]model.AssignedReview, error) {
	t.Log.Debug("AssignmentsByPRURL: start", zap.String("pr_url", prURL))
	reviews := []model.AssignedReview{}
	if err := t.tx.SelectContext(ctx, &reviews,
		`SELECT `+reviewColumns+` FROM assigned_reviews WHERE pr_url=$1 ORDER BY assigned_at, id`, prURL); err != nil {
		t.Log.Error("AssignmentsByPRURL: query failed", zap.Error(err))
		return nil, err
	}
	t.Log.Debug("AssignmentsByPRURL: success", zap.Int("count", len(reviews)))
	return reviews, nil
}

func (t *Tx) ActiveAssignmentsFor(ctx context.Context, personID int64) ([]model.AssignedReview, error) {
	t.Log.Debug("ActiveAssignmentsFor: start", zap.Int64("person_id", personID))
	reviews := []model.AssignedReview{}
	if err := t.tx.SelectContext(ctx, &reviews,
		`SELECT `+reviewColumns+` FROM assigned_reviews
		 WHERE assignee_id=$1 AND completed_at IS NULL
		 ORDER BY assigned_at ASC, id ASC`, personID); err != nil {
		t.Log.Error("ActiveAssignmentsFor: query failed", zap.Error(err))
		return nil, err
	}
	t.Log.Debug("ActiveAssignmentsFor: success", zap.Int("count", len(reviews)))
	return reviews, nil
}

func (t *Tx) AssignmentByID(ctx context.Context, id int64) (*model.AssignedReview, error) {
	t.Log.Debug("AssignmentByID: start", zap.Int64("id", id))
	var a model.AssignedReview
	if err := t.tx.GetContext(ctx, &a, `SELECT `+reviewColumns+` FROM assigned_reviews WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			t.Log.Debug("AssignmentByID: not found", zap.Int64("id", id))
			return nil, model.ErrNotFound
		}
		t.Log.Error("AssignmentByID: query failed", zap.Error(err))
		return nil, err
	}
	return &a, nil
}

func (t *Tx) CreateAssignment(ctx context.Context, a *model.AssignedReview) error {
	t.Log.Debug("CreateAssignment: start", zap.Int64("assignee_id", a.AssigneeID), zap.String("pr_url", a.PRURL))
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO assigned_reviews(assignee_id, requestor_id, channel_id, pr_url, assigned_at) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		a.AssigneeID, a.RequestorID, a.ChannelID, a.PRURL, a.AssignedAt).Scan(&a.ID)
	if err != nil {
		t.Log.Error("CreateAssignment: insert failed", zap.String("pr_url", a.PRURL), zap.Error(err))
		return err
	}
	t.Log.Info("CreateAssignment: success", zap.Int64("id", a.ID), zap.Int64("assignee_id", a.AssigneeID), zap.String("pr_url", a.PRURL))
	return nil
}

// UpdateAssignment writes the lifecycle timestamps. A timestamp that is
// already set in the database is never cleared.
func (t *Tx) UpdateAssignment(ctx context.Context, a *model.AssignedReview) error {
	t.Log.Debug("UpdateAssignment: start", zap.Int64("id", a.ID))
	res, err := t.tx.ExecContext(ctx,
		`UPDATE assigned_reviews
		 SET acknowledged_at = COALESCE(acknowledged_at, $2),
		     rerolled_at     = COALESCE(rerolled_at, $3),
		     completed_at    = COALESCE(completed_at, $4)
		 WHERE id=$1`,
		a.ID, a.AcknowledgedAt, a.RerolledAt, a.CompletedAt)
	if err != nil {
		t.Log.Error("UpdateAssignment: update failed", zap.Int64("id", a.ID), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	t.Log.Debug("UpdateAssignment: success", zap.Int64("id", a.ID))
	return nil
}

func (t *Tx) CountReviewsInvolving(ctx context.Context, personID int64) (int, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM assigned_reviews WHERE assignee_id=$1 OR requestor_id=$1`, personID); err != nil {
		t.Log.Error("CountReviewsInvolving: query failed", zap.Error(err))
		return 0, err
	}
	return n, nil
}

func (t *Tx) DeleteReviewsInvolving(ctx context.Context, personID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM assigned_reviews WHERE assignee_id=$1 OR requestor_id=$1`, personID)
	if err != nil {
		t.Log.Error("DeleteReviewsInvolving: delete failed", zap.Error(err))
		return err
	}
	n, _ := res.RowsAffected()
	t.Log.Info("DeleteReviewsInvolving: success", zap.Int64("person_id", personID), zap.Int64("deleted", n))
	return nil
}
