package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
)

// eventsPerPage is the page size of the event list.
const eventsPerPage = 50

// logTimeout bounds a single event write. Event writes outlive the request
// that triggered them so a disconnecting client still leaves a trail.
const logTimeout = 3 * time.Second

// Service records and queries security events.
type Service interface {
	// LogEvent records a security event. Callers usually ignore the error;
	// a lost audit row must not fail the action it describes.
	LogEvent(ctx context.Context, eventType, identityID, actorID, ip, userAgent string, details map[string]any) error

	// ListEvents returns one page of events, optionally filtered by type.
	ListEvents(ctx context.Context, eventType string, page int) (*Page, error)

	// GetStats returns aggregate statistics.
	GetStats(ctx context.Context) (*Stats, error)

	// RecentByIP counts events of one type from ip within the last window.
	RecentByIP(ctx context.Context, ip, eventType string, window time.Duration) (int, error)
}

// service implements Service.
type service struct {
	repo EventRepository
}

// NewService creates a new security event service.
func NewService(repo EventRepository) Service {
	return &service{repo: repo}
}

// LogEvent validates and persists a security event.
func (s *service) LogEvent(ctx context.Context, eventType, identityID, actorID, ip, userAgent string, details map[string]any) error {
	if eventType == "" {
		return apperror.NewValidation("event type is required")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logTimeout)
	defer cancel()

	event := &Event{
		EventType:  eventType,
		IdentityID: identityID,
		ActorID:    actorID,
		IPAddress:  ip,
		UserAgent:  truncate(userAgent, 500),
		Details:    details,
	}
	if err := s.repo.Log(ctx, event); err != nil {
		slog.Error("failed to log security event",
			slog.String("event_type", eventType),
			slog.String("ip", ip),
			slog.Any("error", err),
		)
		return apperror.NewPersistence(fmt.Errorf("logging security event: %w", err))
	}
	return nil
}

// truncate cuts s to at most n bytes to fit its column.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ListEvents returns paginated security events.
func (s *service) ListEvents(ctx context.Context, eventType string, page int) (*Page, error) {
	if eventType != "" && !knownEvents[eventType] {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown event type %q", eventType))
	}
	if page < 1 {
		page = 1
	}

	offset := (page - 1) * eventsPerPage
	events, total, err := s.repo.List(ctx, eventType, eventsPerPage, offset)
	if err != nil {
		return nil, apperror.NewPersistence(fmt.Errorf("listing security events: %w", err))
	}
	return &Page{Events: events, Total: total, Page: page, PerPage: eventsPerPage}, nil
}

// GetStats returns aggregate security statistics.
func (s *service) GetStats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, apperror.NewPersistence(fmt.Errorf("getting security stats: %w", err))
	}
	return stats, nil
}

// RecentByIP counts recent events from one address.
func (s *service) RecentByIP(ctx context.Context, ip, eventType string, window time.Duration) (int, error) {
	if ip == "" {
		return 0, apperror.NewValidation("ip is required")
	}
	if !knownEvents[eventType] {
		return 0, apperror.NewValidation(fmt.Sprintf("unknown event type %q", eventType))
	}
	if window <= 0 || window > 30*24*time.Hour {
		return 0, apperror.NewValidation("window must be between 1s and 720h")
	}

	n, err := s.repo.CountRecentByIP(ctx, ip, eventType, window)
	if err != nil {
		return 0, apperror.NewPersistence(fmt.Errorf("counting events by ip: %w", err))
	}
	return n, nil
}
