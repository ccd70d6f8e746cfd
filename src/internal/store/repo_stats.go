package store

import (
	"context"

	"go.uber.org/zap"
)

type countRow struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

func (t *Tx) queryCountMap(ctx context.Context, query string, logPrefix string) (map[string]int, error) {
	t.Log.Debug(logPrefix + ": start")
	var rows []countRow
	if err := t.tx.SelectContext(ctx, &rows, query); err != nil {
		t.Log.Error(logPrefix+": query failed", zap.Error(err))
		return nil, err
	}

	result := make(map[string]int, len(rows))
	for _, r := range rows {
		result[r.Key] = r.Count
	}

	t.Log.Debug(logPrefix+": success", zap.Int("items", len(result)))
	return result, nil
}

func (t *Tx) AssignmentsPerAssignee(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT p.external_id AS key, COUNT(*) AS count
		FROM assigned_reviews r
		JOIN people p ON p.id = r.assignee_id
		GROUP BY p.external_id
	`
	return t.queryCountMap(ctx, query, "AssignmentsPerAssignee")
}

func (t *Tx) AssignmentsPerPR(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT pr_url AS key, COUNT(*) AS count
		FROM assigned_reviews
		GROUP BY pr_url
	`
	return t.queryCountMap(ctx, query, "AssignmentsPerPR")
}
