package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/calendarize/internal/recurrence"
)

// Definition is one recurring event as written in the catalog file.
type Definition struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Location    string   `yaml:"location,omitempty"`
	URL         string   `yaml:"url,omitempty"`
	Section     string   `yaml:"section,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`

	Start    string `yaml:"start"`
	End      string `yaml:"end,omitempty"`
	Timezone string `yaml:"timezone,omitempty"`
	AllDay   bool   `yaml:"allDay,omitempty"`

	Repeats        bool     `yaml:"repeats,omitempty"`
	RepeatType     string   `yaml:"repeatType,omitempty"`
	Interval       int      `yaml:"interval,omitempty"`
	Days           []string `yaml:"days,omitempty"`
	MonthDays      []int    `yaml:"monthDays,omitempty"`
	MonthlyBy      string   `yaml:"monthlyBy,omitempty"`
	WeeksOfMonth   []string `yaml:"weeksOfMonth,omitempty"`
	Months         []string `yaml:"months,omitempty"`
	EndRepeat      string   `yaml:"endRepeat,omitempty"`
	EndRepeatDate  string   `yaml:"endRepeatDate,omitempty"`
	EndRepeatCount int      `yaml:"endRepeatCount,omitempty"`

	Exceptions  []string              `yaml:"exceptions,omitempty"`
	TimeChanges map[string]TimeChange `yaml:"timeChanges,omitempty"`
}

type TimeChange struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

var startLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// Event converts the definition into a validated recurrence event.
func (d Definition) Event(defaultTimezone string) (recurrence.Event, error) {
	tz := strings.TrimSpace(d.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	loc := time.UTC
	if tz != "" {
		resolved, err := time.LoadLocation(tz)
		if err != nil {
			return recurrence.Event{}, fmt.Errorf("definition %q: %w", d.ID, &recurrence.RuleError{Field: "timezone", Reason: err.Error()})
		}
		loc = resolved
	}

	start, err := parseDateTime("start", d.Start, loc)
	if err != nil {
		return recurrence.Event{}, fmt.Errorf("definition %q: start: %w", d.ID, err)
	}
	end := start
	if strings.TrimSpace(d.End) != "" {
		end, err = parseDateTime("end", d.End, loc)
		if err != nil {
			return recurrence.Event{}, fmt.Errorf("definition %q: end: %w", d.ID, err)
		}
	}

	rule, err := d.rule(start)
	if err != nil {
		return recurrence.Event{}, fmt.Errorf("definition %q: %w", d.ID, err)
	}

	ev, err := recurrence.NewEvent(d.ID, recurrence.BaseEvent{Start: start, End: end, Timezone: tz}, rule)
	if err != nil {
		return recurrence.Event{}, fmt.Errorf("definition %q: %w", d.ID, err)
	}
	return ev, nil
}

func (d Definition) rule(start time.Time) (recurrence.Rule, error) {
	rule := recurrence.Rule{
		Repeats:  d.Repeats,
		Interval: d.Interval,
		AllDay:   d.AllDay,
	}

	for _, value := range d.Exceptions {
		day, err := recurrence.ParseDate(value)
		if err != nil {
			return recurrence.Rule{}, &recurrence.RuleError{Field: "exceptions", Reason: err.Error()}
		}
		rule.Exceptions = append(rule.Exceptions, day)
	}

	if len(d.TimeChanges) > 0 {
		rule.TimeOverrides = make(map[recurrence.Date]recurrence.TimeOverride, len(d.TimeChanges))
		for key, change := range d.TimeChanges {
			day, err := recurrence.ParseDate(key)
			if err != nil {
				return recurrence.Rule{}, &recurrence.RuleError{Field: "timeChanges", Reason: err.Error()}
			}
			start, err := recurrence.ParseTimeOfDay(change.Start)
			if err != nil {
				return recurrence.Rule{}, &recurrence.RuleError{Field: "timeChanges", Reason: err.Error()}
			}
			end, err := recurrence.ParseTimeOfDay(change.End)
			if err != nil {
				return recurrence.Rule{}, &recurrence.RuleError{Field: "timeChanges", Reason: err.Error()}
			}
			rule.TimeOverrides[day] = recurrence.TimeOverride{Start: start, End: end}
		}
	}

	if !d.Repeats {
		return rule, nil
	}

	cadence, err := recurrence.ParseCadence(d.RepeatType)
	if err != nil {
		return recurrence.Rule{}, err
	}
	rule.Cadence = cadence

	for _, name := range d.Days {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return recurrence.Rule{}, &recurrence.RuleError{Field: "days", Reason: fmt.Sprintf("unknown weekday %q", name)}
		}
		rule.Weekdays = append(rule.Weekdays, wd)
	}
	rule.MonthDays = append(rule.MonthDays, d.MonthDays...)
	switch strings.ToLower(strings.TrimSpace(d.MonthlyBy)) {
	case "", "day", "date":
	case "weekday", "weekofmonth":
		rule.MonthWeekdays = append(rule.MonthWeekdays, recurrence.NthWeekdayOf(start))
	default:
		return recurrence.Rule{}, &recurrence.RuleError{Field: "monthlyBy", Reason: fmt.Sprintf("unknown value %q", d.MonthlyBy)}
	}
	for _, value := range d.WeeksOfMonth {
		nw, err := parseWeekOfMonth(value)
		if err != nil {
			return recurrence.Rule{}, err
		}
		rule.MonthWeekdays = append(rule.MonthWeekdays, nw)
	}
	for _, name := range d.Months {
		m, err := parseMonth(name)
		if err != nil {
			return recurrence.Rule{}, err
		}
		rule.Months = append(rule.Months, m)
	}

	switch strings.ToLower(strings.TrimSpace(d.EndRepeat)) {
	case "", "never":
		rule.End = recurrence.Never()
	case "date":
		until, err := recurrence.ParseDate(d.EndRepeatDate)
		if err != nil {
			return recurrence.Rule{}, &recurrence.RuleError{Field: "endRepeatDate", Reason: err.Error()}
		}
		rule.End = recurrence.Until(until)
	case "count", "after":
		rule.End = recurrence.AfterCount(d.EndRepeatCount)
	default:
		return recurrence.Rule{}, &recurrence.RuleError{Field: "endRepeat", Reason: fmt.Sprintf("unknown end condition %q", d.EndRepeat)}
	}
	return rule, nil
}

// matches applies the lookup criteria. Unknown keys are reported so typos
// do not silently widen a query.
func (d Definition) matches(criteria map[string]string) (bool, error) {
	keys := make([]string, 0, len(criteria))
	for key := range criteria {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := strings.TrimSpace(criteria[key])
		switch strings.ToLower(key) {
		case "id":
			if d.ID != want {
				return false, nil
			}
		case "section":
			if !strings.EqualFold(d.Section, want) {
				return false, nil
			}
		case "tag":
			found := false
			for _, tag := range d.Tags {
				if strings.EqualFold(tag, want) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case "title":
			if !strings.Contains(strings.ToLower(d.Title), strings.ToLower(want)) {
				return false, nil
			}
		case "repeats":
			repeats, err := strconv.ParseBool(want)
			if err != nil {
				return false, fmt.Errorf("criterion repeats: %w", err)
			}
			if d.Repeats != repeats {
				return false, nil
			}
		default:
			return false, fmt.Errorf("%w: %q", ErrUnknownCriterion, key)
		}
	}
	return true, nil
}

func parseDateTime(field, value string, loc *time.Location) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed.In(loc), nil
	}
	for _, layout := range startLayouts {
		if parsed, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, &recurrence.RuleError{Field: field, Reason: fmt.Sprintf("unrecognized datetime %q", value)}
}

// parseWeekOfMonth reads "2 tue", "-1 fri" or "last fri".
func parseWeekOfMonth(value string) (recurrence.NthWeekday, error) {
	fields := strings.Fields(strings.ToLower(value))
	if len(fields) != 2 {
		return recurrence.NthWeekday{}, &recurrence.RuleError{Field: "weeksOfMonth", Reason: fmt.Sprintf("want \"<week> <weekday>\", got %q", value)}
	}
	wd, ok := weekdayNames[fields[1]]
	if !ok {
		return recurrence.NthWeekday{}, &recurrence.RuleError{Field: "weeksOfMonth", Reason: fmt.Sprintf("unknown weekday %q", fields[1])}
	}
	if fields[0] == "last" {
		return recurrence.NthWeekday{N: -1, Weekday: wd}, nil
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return recurrence.NthWeekday{}, &recurrence.RuleError{Field: "weeksOfMonth", Reason: fmt.Sprintf("unknown week %q", fields[0])}
	}
	return recurrence.NthWeekday{N: n, Weekday: wd}, nil
}

func parseMonth(value string) (time.Month, error) {
	trimmed := strings.TrimSpace(value)
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= 12 {
		return time.Month(n), nil
	}
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		lower := strings.ToLower(trimmed)
		if lower == name || (len(lower) >= 3 && strings.HasPrefix(name, lower)) {
			return m, nil
		}
	}
	return 0, &recurrence.RuleError{Field: "months", Reason: fmt.Sprintf("unknown month %q", value)}
}
