package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger writes the audit trail to Postgres and serves queries over it. It
// implements Logger for writing and Reader for the admin API.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger, creating the
// audit_events table and its indexes when they do not exist yet.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		account_id VARCHAR(100),
		username VARCHAR(255),
		external_id VARCHAR(512),
		provider VARCHAR(100),
		backend VARCHAR(20),
		session_id VARCHAR(100),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		message TEXT,
		error_message TEXT,
		metadata JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_account_id ON audit_events(account_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_provider ON audit_events(provider);
	CREATE INDEX IF NOT EXISTS idx_audit_events_ip_address ON audit_events(ip_address);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts one event and fills its ID.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, status,
			account_id, username, external_id,
			provider, backend, session_id,
			ip_address, user_agent, request_id,
			message, error_message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Status,
		event.AccountID, event.Username, event.ExternalID,
		event.Provider, event.Backend, event.SessionID,
		event.IPAddress, event.UserAgent, event.RequestID,
		event.Message, event.ErrorMessage, metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

const eventColumns = `
		id, timestamp, event_type, status,
		account_id, username, external_id,
		provider, backend, session_id,
		ip_address, user_agent, request_id,
		message, error_message, metadata`

// Search returns the events matching the filter, newest first unless the
// filter asks for ascending order.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `SELECT` + eventColumns + `
	FROM audit_events
	WHERE 1=1`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}
	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}
	if filter.AccountID != "" {
		query += fmt.Sprintf(" AND account_id = $%d", argCount)
		args = append(args, filter.AccountID)
		argCount++
	}
	if filter.Username != "" {
		query += fmt.Sprintf(" AND username = $%d", argCount)
		args = append(args, filter.Username)
		argCount++
	}
	if filter.Provider != "" {
		query += fmt.Sprintf(" AND provider = $%d", argCount)
		args = append(args, filter.Provider)
		argCount++
	}
	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		args = append(args, pq.Array(eventTypeStrs))
		argCount++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}
	if filter.IPAddress != "" {
		query += fmt.Sprintf(" AND ip_address = $%d", argCount)
		args = append(args, filter.IPAddress)
		argCount++
	}
	if filter.RequestID != "" {
		query += fmt.Sprintf(" AND request_id = $%d", argCount)
		args = append(args, filter.RequestID)
		argCount++
	}

	// Only the order direction is caller-controlled; the sort column is
	// fixed so the filter can never inject SQL.
	if filter.SortOrder == "asc" {
		query += " ORDER BY timestamp ASC"
	} else {
		query += " ORDER BY timestamp DESC"
	}

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListOlderThan returns up to limit events recorded before the cutoff,
// oldest first, for batched archival.
func (l *DBLogger) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error) {
	query := `SELECT` + eventColumns + `
	FROM audit_events
	WHERE timestamp < $1
	ORDER BY id ASC
	LIMIT $2`

	rows, err := l.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DeleteThrough removes events up to and including maxID that are older than
// the cutoff. The archiver calls it after an upload so only safely archived
// rows disappear.
func (l *DBLogger) DeleteThrough(ctx context.Context, maxID int64, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE id <= $1 AND timestamp < $2`, maxID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archived audit events: %w", err)
	}
	return result.RowsAffected()
}

// DeleteOlderThan removes every event recorded before the cutoff. This is
// the non-archiving retention path.
func (l *DBLogger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit events: %w", err)
	}
	return result.RowsAffected()
}

// Export serializes the events matching the filter.
func (l *DBLogger) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := l.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Encode(events, format)
}

// Stats aggregates the trail between the optional bounds.
func (l *DBLogger) Stats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1
	if start != nil {
		where += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *start)
		argCount++
	}
	if end != nil {
		where += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *end)
	}

	stats := &Stats{
		EventsByType:   make(map[EventType]int64),
		EventsByStatus: make(map[EventStatus]int64),
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT event_type, status, COUNT(*) FROM audit_events`+where+` GROUP BY event_type, status`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType EventType
		var status EventStatus
		var count int64
		if err := rows.Scan(&eventType, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit aggregate: %w", err)
		}
		stats.TotalEvents += count
		stats.EventsByType[eventType] += count
		stats.EventsByStatus[status] += count
		if eventType == EventLoginFailed {
			stats.FailedLogins += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate audit events: %w", err)
	}

	err = l.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT account_id), COUNT(DISTINCT ip_address) FROM audit_events`+where, args...).
		Scan(&stats.UniqueAccounts, &stats.UniqueIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to count distinct actors: %w", err)
	}

	return stats, nil
}

// Close is a no-op; the database handle is shared with the rest of the
// service and closed by its owner.
func (l *DBLogger) Close() error {
	return nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&event.AccountID, &event.Username, &event.ExternalID,
			&event.Provider, &event.Backend, &event.SessionID,
			&event.IPAddress, &event.UserAgent, &event.RequestID,
			&event.Message, &event.ErrorMessage, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}
