package recurrence

import (
	"iter"
	"log/slog"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences caps expansion of rules that never end when the query
// has no upper bound.
const DefaultMaxOccurrences = 5000

// Query bounds an expansion. Zero Start or End leaves that side open and a
// zero Limit is unlimited.
type Query struct {
	Start time.Time
	End   time.Time
	Limit int
}

// Occurrences lazily expands the event in ascending start order. The
// sequence is restartable: every range call begins again from the anchor.
func (e Event) Occurrences(q Query) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		if e.id == "" {
			return
		}
		if !e.rule.Repeats {
			occ := e.occurrenceAt(e.anchor)
			if e.intersects(occ, q) {
				yield(occ)
			}
			return
		}

		rule, err := rrule.NewRRule(e.option)
		if err != nil {
			return
		}
		next := rule.Iterator()

		var firstDay, lastDay Date
		if !q.Start.IsZero() {
			firstDay = DateOf(q.Start.In(e.loc))
		}
		if !q.End.IsZero() {
			lastDay = DateOf(q.End.In(e.loc))
		}

		emitted := 0
		for {
			candidate, ok := next()
			if !ok {
				return
			}
			day := DateOf(candidate)
			if !q.End.IsZero() && day.After(lastDay) {
				return
			}
			if _, skip := e.exceptions[day]; skip {
				continue
			}

			occ := e.occurrenceOn(day, candidate)
			if e.rule.AllDay {
				if !q.Start.IsZero() && day.Before(firstDay) {
					continue
				}
			} else {
				if !q.Start.IsZero() && occ.Start.Before(q.Start) {
					continue
				}
				if !q.End.IsZero() && occ.Start.After(q.End) {
					continue
				}
			}

			if !yield(occ) {
				return
			}
			emitted++
			if q.Limit > 0 && emitted >= q.Limit {
				return
			}
		}
	}
}

// occurrenceOn builds the occurrence for a generated candidate, applying the
// time override registered for its date.
func (e Event) occurrenceOn(day Date, candidate time.Time) Occurrence {
	if e.rule.AllDay {
		return e.occurrenceAt(day.In(e.loc))
	}
	override, ok := e.rule.TimeOverrides[day]
	if !ok {
		return e.occurrenceAt(candidate)
	}
	start := override.Start.On(day, e.loc)
	end := override.End.On(day, e.loc)
	if end.Before(start) {
		end = override.End.On(day.AddDays(1), e.loc)
	}
	return Occurrence{SourceID: e.id, Start: start, End: end}
}

func (e Event) occurrenceAt(start time.Time) Occurrence {
	if e.rule.AllDay {
		day := DateOf(start)
		return Occurrence{
			SourceID: e.id,
			Start:    day.In(e.loc),
			End:      day.AddDays(e.allDayDays).In(e.loc),
			AllDay:   true,
		}
	}
	return Occurrence{SourceID: e.id, Start: start, End: start.Add(e.duration)}
}

// intersects reports whether a single occurrence overlaps the query window.
// All-day occurrences compare by date.
func (e Event) intersects(occ Occurrence, q Query) bool {
	if e.rule.AllDay {
		first := DateOf(occ.Start)
		last := DateOf(occ.End).AddDays(-1)
		if !q.Start.IsZero() && last.Before(DateOf(q.Start.In(e.loc))) {
			return false
		}
		if !q.End.IsZero() && first.After(DateOf(q.End.In(e.loc))) {
			return false
		}
		return true
	}
	if !q.Start.IsZero() && occ.End.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && occ.Start.After(q.End) {
		return false
	}
	return true
}

// Generator collects occurrences into slices with a safety cap for rules
// that never end.
type Generator struct {
	MaxOccurrences int
	Logger         *slog.Logger
}

// Generate expands ev with the default generator.
func Generate(ev Event, q Query) []Occurrence {
	return Generator{}.Generate(ev, q)
}

func (g Generator) Generate(ev Event, q Query) []Occurrence {
	capped := false
	if q.End.IsZero() && !ev.Bounded() {
		limit := g.MaxOccurrences
		if limit <= 0 {
			limit = DefaultMaxOccurrences
		}
		if q.Limit <= 0 || q.Limit > limit {
			q.Limit = limit
			capped = true
		}
	}

	var out []Occurrence
	for occ := range ev.Occurrences(q) {
		out = append(out, occ)
	}

	if capped && len(out) >= q.Limit {
		logger := g.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("occurrence expansion truncated",
			"event", ev.ID(),
			"limit", q.Limit,
		)
	}
	return out
}
