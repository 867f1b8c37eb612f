package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/hooks"
)

// LoggedExecution is one archived execution.
type LoggedExecution struct {
	ExecutionID string    `json:"executionId"`
	AgentID     string    `json:"agentId"`
	UserID      string    `json:"userId,omitempty"`
	Success     bool      `json:"success"`
	DurationMs  int64     `json:"durationMs"`
	Cost        float64   `json:"cost"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AppendExecution archives one execution. Repeated ids are ignored.
func (db *DB) AppendExecution(ctx context.Context, e LoggedExecution) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	insert := "INSERT OR IGNORE INTO"
	if db.dialect.name == DriverMySQL {
		insert = "INSERT IGNORE INTO"
	}
	_, err := db.sql.ExecContext(ctx, insert+` execution_log
		(execution_id, agent_id, user_id, success, duration_ms, cost, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ExecutionID, e.AgentID, e.UserID, e.Success, e.DurationMs, e.Cost, e.Error,
		e.CreatedAt.UTC().Format(time.DateTime),
	)
	if err != nil {
		return domain.Wrap(domain.CodeStorageFailure, err, fmt.Sprintf("archive execution %s", e.ExecutionID))
	}
	return nil
}

// Executions returns up to limit archived executions, newest first. An
// empty agentID returns every agent's.
func (db *DB) Executions(ctx context.Context, agentID string, limit int) ([]LoggedExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT execution_id, agent_id, user_id, success, duration_ms, cost, error, created_at
		FROM execution_log`
	args := []any{}
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageFailure, err, "query execution log")
	}
	defer rows.Close()

	var out []LoggedExecution
	for rows.Next() {
		var (
			e       LoggedExecution
			created string
		)
		if err := rows.Scan(&e.ExecutionID, &e.AgentID, &e.UserID, &e.Success,
			&e.DurationMs, &e.Cost, &e.Error, &created); err != nil {
			return nil, domain.Wrap(domain.CodeStorageFailure, err, "scan execution")
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ArchiveHook returns a hook handler that archives every
// execution_completed event.
func (db *DB) ArchiveHook() hooks.Handler {
	return func(ctx context.Context, p hooks.Payload) error {
		e := LoggedExecution{
			ExecutionID: stringField(p.Data, "executionId"),
			AgentID:     stringField(p.Data, "agentId"),
			UserID:      stringField(p.Data, "userId"),
			Error:       stringField(p.Data, "error"),
		}
		if e.ExecutionID == "" {
			return nil
		}
		e.Success, _ = p.Data["success"].(bool)
		e.DurationMs, _ = p.Data["durationMs"].(int64)
		e.Cost, _ = p.Data["cost"].(float64)
		return db.AppendExecution(ctx, e)
	}
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
