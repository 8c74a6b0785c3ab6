package recurrence

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Event is a validated recurring event definition. Values are immutable after
// NewEvent and safe to share between goroutines.
type Event struct {
	id   string
	base BaseEvent
	rule Rule

	loc        *time.Location
	anchor     time.Time
	duration   time.Duration
	allDayDays int
	exceptions map[Date]struct{}
	option     rrule.ROption
}

// NewEvent validates base and rule and returns an Event ready for expansion.
// Every malformed definition is reported here as a *RuleError.
func NewEvent(id string, base BaseEvent, rule Rule) (Event, error) {
	if strings.TrimSpace(id) == "" {
		return Event{}, invalid("id", "must not be empty")
	}
	if base.Start.IsZero() {
		return Event{}, invalid("start", "must be set")
	}

	loc := base.Start.Location()
	if tz := strings.TrimSpace(base.Timezone); tz != "" {
		resolved, err := time.LoadLocation(tz)
		if err != nil {
			return Event{}, invalid("timezone", "unknown zone %q", tz)
		}
		loc = resolved
	}

	start := base.Start.In(loc)
	end := base.End
	if end.IsZero() {
		end = start
	}
	end = end.In(loc)
	if end.Before(start) {
		return Event{}, invalid("end", "%s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	ev := Event{
		id:         id,
		base:       BaseEvent{Start: start, End: end, Timezone: loc.String()},
		loc:        loc,
		duration:   end.Sub(start),
		exceptions: make(map[Date]struct{}, len(rule.Exceptions)),
	}

	normalized, err := normalizeRule(rule, DateOf(start))
	if err != nil {
		return Event{}, err
	}
	ev.rule = normalized

	if normalized.AllDay {
		ev.anchor = DateOf(start).In(loc)
		ev.allDayDays = allDaySpan(start, end)
	} else {
		ev.anchor = start
	}

	for _, day := range normalized.Exceptions {
		ev.exceptions[day] = struct{}{}
	}

	if !normalized.Repeats {
		return ev, nil
	}

	ev.option = buildOption(normalized, ev.anchor, loc)
	if _, err := rrule.NewRRule(ev.option); err != nil {
		return Event{}, invalid("rule", "%v", err)
	}
	return ev, nil
}

func (e Event) ID() string { return e.id }

func (e Event) Base() BaseEvent { return e.base }

func (e Event) Location() *time.Location { return e.loc }

func (e Event) Repeats() bool { return e.rule.Repeats }

func (e Event) AllDay() bool { return e.rule.AllDay }

// Rule returns a copy of the normalized rule.
func (e Event) Rule() Rule {
	return cloneRule(e.rule)
}

// Bounded reports whether the rule produces a finite number of occurrences.
func (e Event) Bounded() bool {
	return !e.rule.Repeats || e.rule.End.Kind != EndNever
}

// LastDate returns the last date the event can occur on, or false when the
// rule never ends or ends by count.
func (e Event) LastDate() (Date, bool) {
	switch {
	case !e.rule.Repeats:
		return DateOf(e.base.End), true
	case e.rule.End.Kind == EndUntil:
		return e.rule.End.Until, true
	default:
		return Date{}, false
	}
}

func normalizeRule(rule Rule, startDate Date) (Rule, error) {
	out := cloneRule(rule)
	if !out.AllDay {
		for day, override := range out.TimeOverrides {
			if !override.Start.valid() || !override.End.valid() {
				return Rule{}, invalid("timeOverrides", "invalid time on %s", day)
			}
		}
	}
	for _, day := range out.Exceptions {
		if day.IsZero() {
			return Rule{}, invalid("exceptions", "empty date")
		}
	}

	if !out.Repeats {
		return out, nil
	}

	if out.Cadence < Daily || out.Cadence > Yearly {
		return Rule{}, invalid("cadence", "unknown cadence %d", int(out.Cadence))
	}
	switch {
	case out.Interval < 0:
		return Rule{}, invalid("interval", "must be positive, got %d", out.Interval)
	case out.Interval == 0:
		out.Interval = 1
	}

	if len(out.Weekdays) > 0 && out.Cadence != Weekly {
		return Rule{}, invalid("weekdays", "only valid for weekly cadence, got %s", out.Cadence)
	}
	if len(out.MonthDays) > 0 && out.Cadence != Monthly {
		return Rule{}, invalid("monthDays", "only valid for monthly cadence, got %s", out.Cadence)
	}
	if len(out.MonthWeekdays) > 0 && out.Cadence != Monthly {
		return Rule{}, invalid("monthWeekdays", "only valid for monthly cadence, got %s", out.Cadence)
	}
	if len(out.MonthWeekdays) > 0 && len(out.MonthDays) > 0 {
		return Rule{}, invalid("monthWeekdays", "cannot be combined with monthDays")
	}
	if len(out.Months) > 0 && out.Cadence != Yearly {
		return Rule{}, invalid("months", "only valid for yearly cadence, got %s", out.Cadence)
	}

	for _, wd := range out.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return Rule{}, invalid("weekdays", "unknown weekday %d", int(wd))
		}
	}
	for _, md := range out.MonthDays {
		if md == 0 || md < -31 || md > 31 {
			return Rule{}, invalid("monthDays", "day %d out of range", md)
		}
	}
	for _, nw := range out.MonthWeekdays {
		if nw.N == 0 || nw.N < -5 || nw.N > 5 {
			return Rule{}, invalid("monthWeekdays", "week %d out of range", nw.N)
		}
		if nw.Weekday < time.Sunday || nw.Weekday > time.Saturday {
			return Rule{}, invalid("monthWeekdays", "unknown weekday %d", int(nw.Weekday))
		}
	}
	for _, m := range out.Months {
		if m < time.January || m > time.December {
			return Rule{}, invalid("months", "unknown month %d", int(m))
		}
	}
	out.Weekdays = sortedUnique(out.Weekdays)
	out.MonthDays = sortedUnique(out.MonthDays)
	if len(out.MonthWeekdays) > 0 {
		slices.SortFunc(out.MonthWeekdays, func(a, b NthWeekday) int {
			return cmp.Or(cmp.Compare(a.N, b.N), cmp.Compare(a.Weekday, b.Weekday))
		})
		out.MonthWeekdays = slices.Compact(out.MonthWeekdays)
	}
	out.Months = sortedUnique(out.Months)

	if out.Cadence == Yearly && !yearlyReachable(out.Months, startDate) {
		return Rule{}, invalid("months", "day %d never occurs in the selected months", startDate.Day)
	}

	switch out.End.Kind {
	case EndNever:
	case EndUntil:
		if out.End.Until.IsZero() {
			return Rule{}, invalid("end", "until date must be set")
		}
		if out.End.Until.Before(startDate) {
			return Rule{}, invalid("end", "until %s is before start %s", out.End.Until, startDate)
		}
	case EndAfterCount:
		if out.End.Count < 1 {
			return Rule{}, invalid("end", "count must be at least 1, got %d", out.End.Count)
		}
	default:
		return Rule{}, invalid("end", "unknown end condition %d", int(out.End.Kind))
	}
	return out, nil
}

// yearlyReachable rejects yearly rules that can never produce a date, such as
// the 30th of February.
func yearlyReachable(months []time.Month, startDate Date) bool {
	if len(months) == 0 {
		months = []time.Month{startDate.Month}
	}
	for _, m := range months {
		// 2000 is a leap year, so Feb 29 counts as reachable.
		if startDate.Day <= time.Date(2000, m+1, 0, 0, 0, 0, 0, time.UTC).Day() {
			return true
		}
	}
	return false
}

func buildOption(rule Rule, anchor time.Time, loc *time.Location) rrule.ROption {
	option := rrule.ROption{
		Dtstart:  anchor,
		Interval: rule.Interval,
		Wkst:     rrule.MO,
	}

	switch rule.Cadence {
	case Daily:
		option.Freq = rrule.DAILY
	case Weekly:
		option.Freq = rrule.WEEKLY
		for _, wd := range rule.Weekdays {
			option.Byweekday = append(option.Byweekday, rruleWeekdays[wd])
		}
	case Monthly:
		option.Freq = rrule.MONTHLY
		option.Bymonthday = append(option.Bymonthday, rule.MonthDays...)
		for _, nw := range rule.MonthWeekdays {
			option.Byweekday = append(option.Byweekday, rruleWeekdays[nw.Weekday].Nth(nw.N))
		}
	case Yearly:
		option.Freq = rrule.YEARLY
		for _, m := range rule.Months {
			option.Bymonth = append(option.Bymonth, int(m))
		}
		if len(option.Bymonth) > 0 {
			option.Bymonthday = []int{anchor.Day()}
		}
	}

	switch rule.End.Kind {
	case EndUntil:
		until := rule.End.Until
		option.Until = time.Date(until.Year, until.Month, until.Day, 23, 59, 59, 0, loc)
	case EndAfterCount:
		option.Count = rule.End.Count
	}
	return option
}

// allDaySpan counts the days an all-day event covers. An end at midnight after
// the start date is treated as exclusive.
func allDaySpan(start, end time.Time) int {
	first, last := DateOf(start), DateOf(end)
	days := first.daysUntil(last)
	h, m, s := end.Clock()
	if days > 0 && h == 0 && m == 0 && s == 0 {
		return days
	}
	return days + 1
}

func cloneRule(rule Rule) Rule {
	out := rule
	out.Weekdays = slices.Clone(rule.Weekdays)
	out.MonthDays = slices.Clone(rule.MonthDays)
	out.MonthWeekdays = slices.Clone(rule.MonthWeekdays)
	out.Months = slices.Clone(rule.Months)
	out.Exceptions = slices.Clone(rule.Exceptions)
	if rule.TimeOverrides != nil {
		out.TimeOverrides = make(map[Date]TimeOverride, len(rule.TimeOverrides))
		for day, override := range rule.TimeOverrides {
			out.TimeOverrides[day] = override
		}
	}
	return out
}

func sortedUnique[T ~int](values []T) []T {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
