package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"go.uber.org/zap"
)

const personColumns = `id, external_id, name, code_host_username, password_hash, email`

func (t *Tx) PersonByExternalID(ctx context.Context, externalID string) (*model.Person, error) {
	t.Log.Debug("PersonByExternalID: start", zap.String("external_id", externalID))
	var p model.Person
	if err := t.tx.GetContext(ctx, &p, `SELECT `+personColumns+` FROM people WHERE external_id=$1`, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			t.Log.Debug("PersonByExternalID: not found", zap.String("external_id", externalID))
			return nil, model.ErrNotFound
		}
		t.Log.Error("PersonByExternalID: query failed", zap.Error(err))
		return nil, err
	}
	return &p, nil
}

func (t *Tx) PersonByID(ctx context.Context, id int64) (*model.Person, error) {
	t.Log.Debug("PersonByID: start", zap.Int64("id", id))
	var p model.Person
	if err := t.tx.GetContext(ctx, &p, `SELECT `+personColumns+` FROM people WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		t.Log.Error("PersonByID: query failed", zap.Error(err))
		return nil, err
	}
	return &p, nil
}

// CreatePerson inserts p unless the external id already exists, then loads
// whichever row is stored into p. An email already held by another person
// is dropped so the new row is still stored.
func (t *Tx) CreatePerson(ctx context.Context, p *model.Person) error {
	t.Log.Debug("CreatePerson: start", zap.String("external_id", p.ExternalID))
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO people(external_id, name, code_host_username, password_hash, email)
		 VALUES($1, $2, $3, $4,
		        CASE WHEN EXISTS (SELECT 1 FROM people WHERE email = $5::varchar) THEN NULL ELSE $5::varchar END)
		 ON CONFLICT (external_id) DO NOTHING`,
		p.ExternalID, p.Name, p.CodeHostUsername, p.PasswordHash, p.Email)
	if err != nil {
		t.Log.Error("CreatePerson: insert failed", zap.String("external_id", p.ExternalID), zap.Error(err))
		return err
	}
	stored, err := t.PersonByExternalID(ctx, p.ExternalID)
	if err != nil {
		t.Log.Error("CreatePerson: reload failed", zap.String("external_id", p.ExternalID), zap.Error(err))
		return err
	}
	*p = *stored
	t.Log.Debug("CreatePerson: success", zap.String("external_id", p.ExternalID), zap.Int64("id", p.ID))
	return nil
}

func (t *Tx) UpdatePerson(ctx context.Context, p *model.Person) error {
	t.Log.Debug("UpdatePerson: start", zap.Int64("id", p.ID))
	res, err := t.tx.ExecContext(ctx,
		`UPDATE people SET name=$2, code_host_username=$3, password_hash=$4, email=$5 WHERE id=$1`,
		p.ID, p.Name, p.CodeHostUsername, p.PasswordHash, p.Email)
	if err != nil {
		t.Log.Error("UpdatePerson: update failed", zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	t.Log.Debug("UpdatePerson: success", zap.Int64("id", p.ID))
	return nil
}

func (t *Tx) DeletePerson(ctx context.Context, personID int64) error {
	t.Log.Debug("DeletePerson: start", zap.Int64("id", personID))
	res, err := t.tx.ExecContext(ctx, `DELETE FROM people WHERE id=$1`, personID)
	if err != nil {
		t.Log.Error("DeletePerson: delete failed", zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	t.Log.Info("DeletePerson: success", zap.Int64("id", personID))
	return nil
}
