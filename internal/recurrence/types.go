package recurrence

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without a time of day or location. Exceptions and
// time overrides are keyed by Date so they apply to the whole day regardless
// of the computed start time.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(value string) (Date, error) {
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return DateOf(parsed), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func (d Date) Before(other Date) bool {
	return d.compare(other) < 0
}

func (d Date) After(other Date) bool {
	return d.compare(other) > 0
}

func (d Date) compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return d.Year - other.Year
	case d.Month != other.Month:
		return int(d.Month) - int(other.Month)
	default:
		return d.Day - other.Day
	}
}

// daysUntil counts calendar days from d to other.
func (d Date) daysUntil(other Date) int {
	return int(other.In(time.UTC).Sub(d.In(time.UTC)).Hours() / 24)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is a wall clock time used by time overrides.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func ParseTimeOfDay(value string) (TimeOfDay, error) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range []string{"15:04:05", "15:04"} {
		parsed, err := time.Parse(layout, trimmed)
		if err == nil {
			return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute(), Second: parsed.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("parse time of day %q", value)
}

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On places the time of day on d in loc.
func (t TimeOfDay) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, 0, loc)
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60 && t.Second >= 0 && t.Second < 60
}

// TimeOverride replaces the start and end time of the occurrence generated on
// one date without changing the pattern.
type TimeOverride struct {
	Start TimeOfDay
	End   TimeOfDay
}

type Cadence int

const (
	Daily Cadence = iota
	Weekly
	Monthly
	Yearly
)

func (c Cadence) String() string {
	switch c {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return fmt.Sprintf("cadence(%d)", int(c))
	}
}

func ParseCadence(value string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "daily", "day":
		return Daily, nil
	case "weekly", "week":
		return Weekly, nil
	case "monthly", "month":
		return Monthly, nil
	case "yearly", "year", "annually":
		return Yearly, nil
	default:
		return 0, &RuleError{Field: "cadence", Reason: fmt.Sprintf("unknown cadence %q", value)}
	}
}

type EndKind int

const (
	EndNever EndKind = iota
	EndUntil
	EndAfterCount
)

// EndCondition bounds a repeating rule. The zero value never ends.
type EndCondition struct {
	Kind  EndKind
	Until Date
	Count int
}

func Never() EndCondition {
	return EndCondition{Kind: EndNever}
}

func Until(d Date) EndCondition {
	return EndCondition{Kind: EndUntil, Until: d}
}

func AfterCount(n int) EndCondition {
	return EndCondition{Kind: EndAfterCount, Count: n}
}

// NthWeekday selects the Nth given weekday of a month. Negative N counts from
// the end of the month, so -1 is the last one.
type NthWeekday struct {
	N       int
	Weekday time.Weekday
}

// Rule describes how a base event repeats. Selector fields only apply to the
// matching cadence: Weekdays to Weekly, MonthDays and MonthWeekdays to
// Monthly, Months to Yearly. A monthly rule uses one of its two selectors.
type Rule struct {
	Repeats  bool
	Cadence  Cadence
	Interval int

	Weekdays      []time.Weekday
	MonthDays     []int
	MonthWeekdays []NthWeekday
	Months        []time.Month

	End EndCondition

	Exceptions    []Date
	TimeOverrides map[Date]TimeOverride

	AllDay bool
}

// BaseEvent anchors a rule. Timezone is an IANA identifier; when empty the
// location carried by Start is used.
type BaseEvent struct {
	Start    time.Time
	End      time.Time
	Timezone string
}

// Occurrence is one concrete instance of an event.
type Occurrence struct {
	SourceID string    `json:"sourceId"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"allDay"`
}

// Date returns the calendar day of the occurrence start.
func (o Occurrence) Date() Date {
	return DateOf(o.Start)
}
