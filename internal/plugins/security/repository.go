package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keyxmakerx/bidhouse/internal/database"
)

// EventRepository defines the data access contract for security events.
type EventRepository interface {
	// Log inserts a new security event.
	Log(ctx context.Context, event *Event) error

	// List returns paginated events, most recent first. An empty eventType
	// lists every type.
	List(ctx context.Context, eventType string, limit, offset int) ([]Event, int, error)

	// GetStats returns aggregate counts.
	GetStats(ctx context.Context) (*Stats, error)

	// CountRecentByIP returns the number of events of one type from ip within
	// the last since.
	CountRecentByIP(ctx context.Context, ip, eventType string, since time.Duration) (int, error)
}

// eventRepository implements EventRepository with MariaDB.
type eventRepository struct {
	db database.DBTX
}

// NewEventRepository creates a repository backed by db.
func NewEventRepository(db database.DBTX) EventRepository {
	return &eventRepository{db: db}
}

// Log inserts a security event. Details are stored as JSON.
func (r *eventRepository) Log(ctx context.Context, event *Event) error {
	query := `INSERT INTO security_events (event_type, identity_id, actor_id, ip_address, user_agent, details, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	var details any
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling security event details: %w", err)
		}
		details = raw
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		event.EventType, nullable(event.IdentityID), nullable(event.ActorID),
		event.IPAddress, nullable(event.UserAgent),
		details, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}

	id, _ := result.LastInsertId()
	event.ID = id
	return nil
}

// nullable maps an empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns paginated events with the identity email joined in.
func (r *eventRepository) List(ctx context.Context, eventType string, limit, offset int) ([]Event, int, error) {
	countQuery := `SELECT COUNT(*) FROM security_events`
	var countArgs []any
	if eventType != "" {
		countQuery += ` WHERE event_type = ?`
		countArgs = append(countArgs, eventType)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting security events: %w", err)
	}

	query := `SELECT se.id, se.event_type, COALESCE(se.identity_id, ''), COALESCE(se.actor_id, ''),
	                 se.ip_address, COALESCE(se.user_agent, ''), se.details, se.created_at,
	                 COALESCE(i.email, '')
	          FROM security_events se
	          LEFT JOIN identities i ON i.id = se.identity_id`

	var args []any
	if eventType != "" {
		query += ` WHERE se.event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY se.created_at DESC, se.id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var details sql.NullString
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.IdentityID, &e.ActorID,
			&e.IPAddress, &e.UserAgent, &details, &e.CreatedAt,
			&e.Email,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning security event: %w", err)
		}

		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating security events: %w", err)
	}

	return events, total, nil
}

// GetStats returns aggregate security statistics.
func (r *eventRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("counting security events: %w", err)
	}

	recent := `SELECT COUNT(*) FROM security_events WHERE event_type = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR)`
	if err := r.db.QueryRowContext(ctx, recent, EventLoginFailed).Scan(&stats.FailedLogins24h); err != nil {
		return nil, fmt.Errorf("counting failed logins: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, recent, EventLoginSuccess).Scan(&stats.SuccessfulLogins24h); err != nil {
		return nil, fmt.Errorf("counting successful logins: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, recent, EventVerifyFailed).Scan(&stats.FailedVerifies24h); err != nil {
		return nil, fmt.Errorf("counting failed verifications: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM identities WHERE is_banned = TRUE OR banned_until > NOW()`,
	).Scan(&stats.BannedIdentities); err != nil {
		return nil, fmt.Errorf("counting banned identities: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ip_address) FROM security_events WHERE created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR) AND ip_address != ''`,
	).Scan(&stats.UniqueIPs24h); err != nil {
		return nil, fmt.Errorf("counting unique IPs: %w", err)
	}

	return stats, nil
}

// CountRecentByIP returns the number of events from ip in the given window.
func (r *eventRepository) CountRecentByIP(ctx context.Context, ip, eventType string, since time.Duration) (int, error) {
	query := `SELECT COUNT(*) FROM security_events
	          WHERE ip_address = ? AND event_type = ?
	          AND created_at >= DATE_SUB(NOW(), INTERVAL ? SECOND)`

	var count int
	if err := r.db.QueryRowContext(ctx, query, ip, eventType, int(since.Seconds())).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting recent events by IP: %w", err)
	}
	return count, nil
}
