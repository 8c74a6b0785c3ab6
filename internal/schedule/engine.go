package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rbright/calendarize/internal/recurrence"
)

// Engine answers occurrence queries across every event a Source returns.
type Engine struct {
	source    Source
	cache     *Cache
	generator recurrence.Generator
	now       func() time.Time
	loc       *time.Location
	logger    *slog.Logger
}

type Option func(*Engine)

// WithCache memoizes source lookups in cache. The cache should live no
// longer than the request or command run that owns it.
func WithCache(cache *Cache) Option {
	return func(e *Engine) { e.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.generator.Logger = logger
	}
}

func WithMaxOccurrences(n int) Option {
	return func(e *Engine) { e.generator.MaxOccurrences = n }
}

func New(source Source, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		now:    time.Now,
		loc:    time.Local,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Between returns the occurrences starting inside [start, end]. A zero end
// leaves the window open.
func (e *Engine) Between(ctx context.Context, start, end time.Time, opts Options) ([]Occurrence, error) {
	if !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidWindow, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	order, err := ParseOrder(string(opts.Order))
	if err != nil {
		return nil, err
	}

	events, err := e.lookup(ctx, start, end, opts.Criteria)
	if err != nil {
		return nil, err
	}

	perSource := 0
	switch {
	case opts.Unique:
		perSource = 1
	case order == OrderAsc && opts.Limit > 0:
		// No source can place more than Limit occurrences in the first Limit
		// ascending results.
		perSource = opts.Limit
	}

	items := e.expand(events, recurrence.Query{Start: start, End: end, Limit: perSource})
	items = slices.DeleteFunc(items, func(occ Occurrence) bool {
		return !startsWithin(occ, start, end)
	})
	SortOccurrences(items, e.loc)
	if order == OrderDesc {
		Reverse(items)
	}
	items = Limit(items, opts.Limit)

	e.logger.Debug("occurrence query",
		"start", start,
		"end", end,
		"events", len(events),
		"occurrences", len(items),
	)
	return items, nil
}

// After returns occurrences starting at or after from.
func (e *Engine) After(ctx context.Context, from time.Time, opts Options) ([]Occurrence, error) {
	return e.Between(ctx, from, time.Time{}, opts)
}

// Upcoming returns occurrences starting from the engine's current time.
func (e *Engine) Upcoming(ctx context.Context, opts Options) ([]Occurrence, error) {
	return e.After(ctx, e.Now(), opts)
}

func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

func (e *Engine) lookup(ctx context.Context, start, end time.Time, criteria Criteria) ([]recurrence.Event, error) {
	key := ""
	if e.cache != nil {
		key = CacheKey(start, end, criteria)
		if events, ok := e.cache.Get(key); ok {
			return events, nil
		}
	}

	events, err := e.source.Lookup(ctx, start, end, criteria)
	if err != nil {
		return nil, fmt.Errorf("lookup events: %w", err)
	}
	if e.cache != nil {
		e.cache.Put(key, events)
	}
	return events, nil
}

func (e *Engine) expand(events []recurrence.Event, q recurrence.Query) []Occurrence {
	var items []Occurrence
	for _, ev := range events {
		items = append(items, e.generator.Generate(ev, q)...)
	}
	return items
}

// startsWithin reports whether occ starts inside [start, end]. A single
// event that began before start is still running but does not qualify.
// All-day occurrences compare by date in their own zone.
func startsWithin(occ Occurrence, start, end time.Time) bool {
	if occ.AllDay {
		day := recurrence.DateOf(occ.Start)
		loc := occ.Start.Location()
		if !start.IsZero() && day.Before(recurrence.DateOf(start.In(loc))) {
			return false
		}
		return end.IsZero() || !day.After(recurrence.DateOf(end.In(loc)))
	}
	if !start.IsZero() && occ.Start.Before(start) {
		return false
	}
	return end.IsZero() || !occ.Start.After(end)
}
