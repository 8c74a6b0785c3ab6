package eds

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/rbright/calendarize/internal/export"
	"github.com/rbright/calendarize/internal/recurrence"
)

// Converted is the result of turning backend VEVENTs into recurrence events.
type Converted struct {
	Events   []recurrence.Event
	Metadata map[string]export.Metadata
}

type series struct {
	master    *RawEvent
	overrides []RawEvent
}

// Convert groups masters with their RECURRENCE-ID overrides and builds one
// recurrence event per series. Overrides that stay on their original day
// become time overrides; moved or retitled instances are excluded from the
// series and emitted as single events. Cancelled instances become exceptions.
func Convert(raws []RawEvent, logger *slog.Logger) Converted {
	if logger == nil {
		logger = slog.Default()
	}

	order := make([]string, 0, len(raws))
	groups := make(map[string]*series, len(raws))
	for i := range raws {
		raw := raws[i]
		key := seriesKey(raw)
		group, ok := groups[key]
		if !ok {
			group = &series{}
			groups[key] = group
			order = append(order, key)
		}
		if raw.RecurrenceAt == nil {
			if group.master == nil {
				group.master = &raw
			}
			continue
		}
		group.overrides = append(group.overrides, raw)
	}

	out := Converted{Metadata: make(map[string]export.Metadata, len(raws))}
	for _, key := range order {
		group := groups[key]
		if group.master == nil {
			for _, override := range group.overrides {
				out.addSingle(overrideID(key, override), override, logger)
			}
			continue
		}
		out.addSeries(key, group, logger)
	}
	return out
}

func (c *Converted) addSeries(id string, group *series, logger *slog.Logger) {
	master := *group.master
	if master.Status == "CANCELLED" {
		return
	}
	if master.RRULE == "" {
		c.addSingle(id, master, logger)
		for i, rdate := range master.RDates {
			c.addSingle(rdateID(id, i), shiftTo(master, rdate), logger)
		}
		return
	}

	rule, err := recurrence.RuleFromRRULE(master.RRULE, master.ExDates, master.Start.Location())
	if err != nil {
		logger.Warn("unsupported recurrence, keeping first instance only", "uid", master.UID, "rrule", master.RRULE, "error", err)
		c.addSingle(id, master, logger)
		return
	}
	rule.AllDay = master.AllDay

	var detached []RawEvent
	for _, override := range group.overrides {
		original := recurrence.DateOf(override.RecurrenceAt.In(master.Start.Location()))
		if override.Status == "CANCELLED" {
			rule.Exceptions = append(rule.Exceptions, original)
			continue
		}
		if !master.AllDay && !override.AllDay && sameDay(override, original, master.Start.Location()) && override.Summary == master.Summary {
			if rule.TimeOverrides == nil {
				rule.TimeOverrides = make(map[recurrence.Date]recurrence.TimeOverride)
			}
			rule.TimeOverrides[original] = timeOverride(override, master.Start.Location())
			continue
		}
		rule.Exceptions = append(rule.Exceptions, original)
		detached = append(detached, override)
	}

	ev, err := recurrence.NewEvent(id, recurrence.BaseEvent{Start: master.Start, End: master.End}, rule)
	if err != nil {
		logger.Warn("invalid recurrence, keeping first instance only", "uid", master.UID, "error", err)
		c.addSingle(id, master, logger)
		return
	}
	c.Events = append(c.Events, ev)
	c.Metadata[id] = metadataOf(master)

	for _, override := range detached {
		c.addSingle(overrideID(id, override), override, logger)
	}
	for i, rdate := range master.RDates {
		c.addSingle(rdateID(id, i), shiftTo(master, rdate), logger)
	}
}

func (c *Converted) addSingle(id string, raw RawEvent, logger *slog.Logger) {
	if raw.Status == "CANCELLED" {
		return
	}
	ev, err := recurrence.NewEvent(id, recurrence.BaseEvent{Start: raw.Start, End: raw.End}, recurrence.Rule{AllDay: raw.AllDay})
	if err != nil {
		logger.Warn("skipping event", "uid", raw.UID, "error", err)
		return
	}
	c.Events = append(c.Events, ev)
	c.Metadata[id] = metadataOf(raw)
}

func seriesKey(raw RawEvent) string {
	return raw.CalendarUID + "/" + raw.UID
}

func overrideID(key string, raw RawEvent) string {
	return key + "@" + raw.RecurrenceAt.UTC().Format("20060102T150405Z")
}

func rdateID(key string, i int) string {
	return key + "#rdate" + strconv.Itoa(i+1)
}

func shiftTo(raw RawEvent, start time.Time) RawEvent {
	duration := raw.End.Sub(raw.Start)
	raw.Start = start
	raw.End = start.Add(duration)
	return raw
}

func sameDay(raw RawEvent, day recurrence.Date, loc *time.Location) bool {
	return recurrence.DateOf(raw.Start.In(loc)) == day
}

func timeOverride(raw RawEvent, loc *time.Location) recurrence.TimeOverride {
	start := raw.Start.In(loc)
	end := raw.End.In(loc)
	return recurrence.TimeOverride{
		Start: recurrence.TimeOfDay{Hour: start.Hour(), Minute: start.Minute(), Second: start.Second()},
		End:   recurrence.TimeOfDay{Hour: end.Hour(), Minute: end.Minute(), Second: end.Second()},
	}
}

func metadataOf(raw RawEvent) export.Metadata {
	title := raw.Summary
	if title == "" {
		title = "(untitled)"
	}
	return export.Metadata{
		Title:       title,
		Description: raw.Description,
		Location:    raw.Location,
		URL:         raw.URL,
		UIDSeed:     "eds:" + raw.CalendarUID + ":" + raw.UID,
	}
}
