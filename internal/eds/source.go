package eds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/calendarize/internal/export"
	"github.com/rbright/calendarize/internal/recurrence"
	"github.com/rbright/calendarize/internal/schedule"
)

const DefaultHorizon = 90 * 24 * time.Hour

// Backend is the subset of Client a Source needs.
type Backend interface {
	ListCalendars(ctx context.Context) ([]Calendar, error)
	FetchEvents(ctx context.Context, calendars []Calendar, windowStart, windowEnd time.Time) ([]RawEvent, error)
}

// Source serves desktop calendar events as a schedule.Source. Events are
// fetched for the query window, or [from, from+horizon) when the window is
// open. Recurring masters come back whole, so their occurrences past the
// fetch end are still generated.
type Source struct {
	backend Backend
	horizon time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.RWMutex
	metadata map[string]export.Metadata
}

func NewSource(backend Backend, horizon time.Duration, logger *slog.Logger) *Source {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		backend:  backend,
		horizon:  horizon,
		now:      time.Now,
		logger:   logger,
		metadata: make(map[string]export.Metadata),
	}
}

// Lookup accepts the "calendar" criterion, matched against calendar uid or
// name, and "title" as a case-insensitive substring.
func (s *Source) Lookup(ctx context.Context, from, end time.Time, criteria schedule.Criteria) ([]recurrence.Event, error) {
	var calendarRef, titleRef string
	for key, value := range criteria {
		switch strings.ToLower(key) {
		case "calendar":
			calendarRef = value
		case "title":
			titleRef = strings.ToLower(strings.TrimSpace(value))
		default:
			return nil, fmt.Errorf("eds: unknown criterion %q", key)
		}
	}

	if from.IsZero() {
		from = s.now()
	}
	if end.IsZero() || !end.After(from) {
		end = from.Add(s.horizon)
	}

	calendars, err := s.backend.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	selected := selectCalendars(calendars, calendarRef)
	if len(selected) == 0 {
		s.logger.Debug("no calendars selected", "calendar", calendarRef)
		return nil, nil
	}

	raws, err := s.backend.FetchEvents(ctx, selected, from, end)
	if err != nil {
		return nil, err
	}
	converted := Convert(raws, s.logger)

	events := make([]recurrence.Event, 0, len(converted.Events))
	for _, ev := range converted.Events {
		if titleRef != "" && !strings.Contains(strings.ToLower(converted.Metadata[ev.ID()].Title), titleRef) {
			continue
		}
		events = append(events, ev)
	}

	s.mu.Lock()
	for id, meta := range converted.Metadata {
		s.metadata[id] = meta
	}
	s.mu.Unlock()

	s.logger.Debug("eds lookup", "calendars", len(selected), "raw", len(raws), "events", len(events))
	return events, nil
}

// Metadata implements export.MetadataLookup for events returned by Lookup.
func (s *Source) Metadata(sourceID string) (export.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metadata[sourceID]
	return meta, ok
}
