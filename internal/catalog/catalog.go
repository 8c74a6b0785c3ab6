package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rbright/calendarize/internal/export"
	"github.com/rbright/calendarize/internal/recurrence"
	"github.com/rbright/calendarize/internal/schedule"
)

var (
	ErrNotFound         = errors.New("event not found")
	ErrUnknownCriterion = errors.New("unknown criterion")
)

type file struct {
	Timezone string       `yaml:"timezone,omitempty"`
	Events   []Definition `yaml:"events"`
}

// Catalog holds the recurring event definitions of one YAML file. It serves
// as the default schedule.Source and export.MetadataLookup.
type Catalog struct {
	timezone    string
	definitions []Definition
	events      []recurrence.Event
	index       map[string]int
	logger      *slog.Logger
}

func Load(path, defaultTimezone string, logger *slog.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data, defaultTimezone, logger)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates every definition. A single malformed definition
// fails the whole catalog.
func Parse(data []byte, defaultTimezone string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	tz := strings.TrimSpace(doc.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}

	c := &Catalog{
		timezone:    tz,
		definitions: make([]Definition, 0, len(doc.Events)),
		events:      make([]recurrence.Event, 0, len(doc.Events)),
		index:       make(map[string]int, len(doc.Events)),
		logger:      logger,
	}
	for i, def := range doc.Events {
		def.ID = strings.TrimSpace(def.ID)
		if def.ID == "" {
			return nil, fmt.Errorf("event #%d: %w", i+1, &recurrence.RuleError{Field: "id", Reason: "must not be empty"})
		}
		if _, exists := c.index[def.ID]; exists {
			return nil, fmt.Errorf("event %q: duplicate id", def.ID)
		}
		ev, err := def.Event(tz)
		if err != nil {
			return nil, err
		}
		c.index[def.ID] = len(c.events)
		c.definitions = append(c.definitions, def)
		c.events = append(c.events, ev)
	}

	logger.Debug("catalog loaded", "events", len(c.events), "timezone", tz)
	return c, nil
}

func (c *Catalog) Timezone() string {
	return c.timezone
}

func (c *Catalog) Len() int {
	return len(c.events)
}

// Lookup returns the events matching criteria that can still start on or
// after from, in file order. The catalog holds every definition in memory, so
// the window end is not needed.
func (c *Catalog) Lookup(ctx context.Context, from, _ time.Time, criteria schedule.Criteria) ([]recurrence.Event, error) {
	matched := make([]recurrence.Event, 0, len(c.events))
	for i, def := range c.definitions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := def.matches(criteria)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ev := c.events[i]
		if !from.IsZero() && endedBefore(ev, from) {
			continue
		}
		matched = append(matched, ev)
	}

	c.logger.Debug("catalog lookup", "criteria", criteria.Canonical(), "matched", len(matched))
	return matched, nil
}

// endedBefore reports whether ev cannot start on or after from. A single
// event is judged by its start date, since one that is still running when
// the window opens does not start inside it.
func endedBefore(ev recurrence.Event, from time.Time) bool {
	last, ok := ev.LastDate()
	if !ev.Repeats() {
		last, ok = recurrence.DateOf(ev.Base().Start), true
	}
	if !ok {
		return false
	}
	return last.Before(recurrence.DateOf(from.In(ev.Location())))
}

func (c *Catalog) Event(id string) (recurrence.Event, error) {
	i, ok := c.index[id]
	if !ok {
		return recurrence.Event{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c.events[i], nil
}

func (c *Catalog) Definition(id string) (Definition, error) {
	i, ok := c.index[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c.definitions[i], nil
}

// Metadata implements export.MetadataLookup. The UID seed is fixed per
// catalog entry so exported UIDs survive title edits.
func (c *Catalog) Metadata(sourceID string) (export.Metadata, bool) {
	i, ok := c.index[sourceID]
	if !ok {
		return export.Metadata{}, false
	}
	def := c.definitions[i]
	return export.Metadata{
		Title:       def.Title,
		Description: def.Description,
		Location:    def.Location,
		URL:         def.URL,
		UIDSeed:     "catalog:" + def.ID,
	}, true
}
