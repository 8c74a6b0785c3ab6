package recurrence

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// RuleFromRRULE maps an RFC 5545 RRULE value onto a Rule. Plain BYDAY maps to
// weekly weekdays and ordinal BYDAY such as 2TU or -1FR to monthly week
// selectors. Parts the rule model cannot express (BYSETPOS, sub-daily
// frequencies and similar) are rejected with ErrInvalidRule so callers can decide how to degrade.
func RuleFromRRULE(value string, exdates []time.Time, loc *time.Location) (Rule, error) {
	if loc == nil {
		loc = time.UTC
	}
	option, err := rrule.StrToROptionInLocation(strings.TrimSpace(value), loc)
	if err != nil {
		return Rule{}, invalid("rrule", "%v", err)
	}

	rule := Rule{Repeats: true, Interval: option.Interval}
	switch option.Freq {
	case rrule.DAILY:
		rule.Cadence = Daily
	case rrule.WEEKLY:
		rule.Cadence = Weekly
	case rrule.MONTHLY:
		rule.Cadence = Monthly
	case rrule.YEARLY:
		rule.Cadence = Yearly
	default:
		return Rule{}, invalid("rrule", "unsupported frequency %s", option.Freq)
	}

	unsupported := map[string]int{
		"BYSETPOS":  len(option.Bysetpos),
		"BYYEARDAY": len(option.Byyearday),
		"BYWEEKNO":  len(option.Byweekno),
		"BYHOUR":    len(option.Byhour),
		"BYMINUTE":  len(option.Byminute),
		"BYSECOND":  len(option.Bysecond),
		"BYEASTER":  len(option.Byeaster),
	}
	for part, n := range unsupported {
		if n > 0 {
			return Rule{}, invalid("rrule", "%s is not supported", part)
		}
	}

	if len(option.Bymonthday) > 0 && rule.Cadence != Monthly {
		return Rule{}, invalid("rrule", "BYMONTHDAY is only supported for monthly rules")
	}
	if len(option.Bymonth) > 0 && rule.Cadence != Yearly {
		return Rule{}, invalid("rrule", "BYMONTH is only supported for yearly rules")
	}

	for _, wd := range option.Byweekday {
		day := time.Weekday((wd.Day() + 1) % 7)
		switch {
		case rule.Cadence == Weekly && wd.N() == 0:
			rule.Weekdays = append(rule.Weekdays, day)
		case rule.Cadence == Monthly && wd.N() != 0:
			rule.MonthWeekdays = append(rule.MonthWeekdays, NthWeekday{N: wd.N(), Weekday: day})
		default:
			return Rule{}, invalid("rrule", "BYDAY %s is not supported for %s rules", wd, rule.Cadence)
		}
	}
	rule.MonthDays = append(rule.MonthDays, option.Bymonthday...)
	for _, m := range option.Bymonth {
		rule.Months = append(rule.Months, time.Month(m))
	}

	switch {
	case option.Count > 0:
		rule.End = AfterCount(option.Count)
	case !option.Until.IsZero():
		rule.End = Until(DateOf(option.Until.In(loc)))
	}

	for _, exdate := range exdates {
		rule.Exceptions = append(rule.Exceptions, DateOf(exdate.In(loc)))
	}
	return rule, nil
}

// RRULE renders the repeating part of the rule as an RRULE value. Exceptions
// and time overrides have no RRULE form and are left out. Non-repeating
// rules render as an empty string.
func (r Rule) RRULE() string {
	if !r.Repeats {
		return ""
	}
	option := buildOption(r, time.Time{}, time.UTC)
	if option.Interval == 1 {
		option.Interval = 0
	}
	if r.Cadence == Yearly {
		option.Bymonthday = nil
	}
	if r.End.Kind == EndUntil {
		u := r.End.Until
		option.Until = time.Date(u.Year, u.Month, u.Day, 23, 59, 59, 0, time.UTC)
	}
	return option.RRuleString()
}
