package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arko05roy/swarm/internal/domain"
)

// Well-known snapshot names.
const (
	SnapshotRegistry = "registry"
	SnapshotLedger   = "ledger"
)

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SaveSnapshot stores v as JSON under name, replacing any previous value.
func (db *DB) SaveSnapshot(ctx context.Context, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return domain.Wrap(domain.CodeStorageFailure, err, fmt.Sprintf("encode snapshot %s", name))
	}
	now := time.Now().UTC().Format(time.DateTime)
	if _, err := db.sql.ExecContext(ctx, db.dialect.upsertSnapshot, name, string(payload), now); err != nil {
		return domain.Wrap(domain.CodeStorageFailure, err, fmt.Sprintf("save snapshot %s", name))
	}
	db.log.Debug().Str("snapshot", name).Int("bytes", len(payload)).Msg("snapshot saved")
	return nil
}

// LoadSnapshot decodes the snapshot stored under name into v. It reports
// false when no such snapshot exists.
func (db *DB) LoadSnapshot(ctx context.Context, name string, v any) (bool, error) {
	var payload string
	err := db.sql.QueryRowContext(ctx, "SELECT payload FROM snapshots WHERE name = ?", name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.Wrap(domain.CodeStorageFailure, err, fmt.Sprintf("load snapshot %s", name))
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return false, domain.Wrap(domain.CodeStorageFailure, err, fmt.Sprintf("decode snapshot %s", name))
	}
	return true, nil
}

// DeleteSnapshot removes a snapshot. Missing snapshots are not an error.
func (db *DB) DeleteSnapshot(ctx context.Context, name string) error {
	if _, err := db.sql.ExecContext(ctx, "DELETE FROM snapshots WHERE name = ?", name); err != nil {
		return domain.Wrap(domain.CodeStorageFailure, err, fmt.Sprintf("delete snapshot %s", name))
	}
	return nil
}

// Snapshots lists stored snapshots by name.
func (db *DB) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := db.sql.QueryContext(ctx,
		"SELECT name, LENGTH(payload), updated_at FROM snapshots ORDER BY name")
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageFailure, err, "list snapshots")
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info    SnapshotInfo
			updated string
		)
		if err := rows.Scan(&info.Name, &info.Size, &updated); err != nil {
			return nil, domain.Wrap(domain.CodeStorageFailure, err, "scan snapshot")
		}
		info.UpdatedAt = parseTime(updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

// parseTime accepts both the stored DATETIME text and the RFC 3339 form
// database/sql produces when the MySQL driver parses times.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.DateTime, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
