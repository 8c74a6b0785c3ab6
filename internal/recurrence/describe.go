package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ordinalWords = [...]string{"", "First", "Second", "Third", "Fourth", "Fifth"}

// WeekOfMonth returns which occurrence of its weekday t is within the month:
// 1 to 4, or -1 for the fifth, which is always the last.
func WeekOfMonth(t time.Time) int {
	week := (t.Day()-1)/7 + 1
	if week > 4 {
		return -1
	}
	return week
}

// NthWeekdayOf returns the month week selector that matches t.
func NthWeekdayOf(t time.Time) NthWeekday {
	return NthWeekday{N: WeekOfMonth(t), Weekday: t.Weekday()}
}

// WeekMonthText names the month week t falls in, e.g. "Second Tuesday" or
// "Last Friday".
func WeekMonthText(t time.Time) string {
	return NthWeekdayOf(t).String()
}

func (nw NthWeekday) String() string {
	var prefix string
	switch {
	case nw.N == -1:
		prefix = "Last"
	case nw.N < -1 && -nw.N < len(ordinalWords):
		prefix = ordinalWords[-nw.N] + " to last"
	case nw.N > 0 && nw.N < len(ordinalWords):
		prefix = ordinalWords[nw.N]
	default:
		prefix = strconv.Itoa(nw.N)
	}
	return prefix + " " + nw.Weekday.String()
}

// Ordinal renders n with its English suffix: 1st, 2nd, 11th, 23rd.
func Ordinal(n int) string {
	suffix := "th"
	if mod := n % 100; mod < 11 || mod > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

var cadenceUnits = map[Cadence][2]string{
	Daily:   {"Daily", "days"},
	Weekly:  {"Weekly", "weeks"},
	Monthly: {"Monthly", "months"},
	Yearly:  {"Yearly", "years"},
}

// Describe renders the repeat pattern as short English text, e.g.
// "Every 2 weeks on Monday, Wednesday" or "Monthly on the Second Tuesday".
func (e Event) Describe() string {
	r := e.rule
	if !r.Repeats {
		return "Once"
	}
	start := e.base.Start

	units := cadenceUnits[r.Cadence]
	text := units[0]
	if r.Interval > 1 {
		text = fmt.Sprintf("Every %d %s", r.Interval, units[1])
	}

	switch r.Cadence {
	case Weekly:
		days := r.Weekdays
		if len(days) == 0 {
			days = []time.Weekday{start.Weekday()}
		}
		names := make([]string, len(days))
		for i, wd := range days {
			names[i] = wd.String()
		}
		text += " on " + strings.Join(names, ", ")
	case Monthly:
		var parts []string
		for _, nw := range r.MonthWeekdays {
			parts = append(parts, nw.String())
		}
		for _, md := range r.MonthDays {
			parts = append(parts, monthDayText(md))
		}
		if len(parts) == 0 {
			parts = []string{Ordinal(start.Day())}
		}
		text += " on the " + strings.Join(parts, ", ")
	case Yearly:
		if len(r.Months) == 0 {
			text += " on " + start.Format("January 2")
			break
		}
		names := make([]string, len(r.Months))
		for i, m := range r.Months {
			names[i] = m.String()
		}
		text += " on the " + Ordinal(start.Day()) + " of " + strings.Join(names, ", ")
	}

	switch r.End.Kind {
	case EndUntil:
		text += ", until " + r.End.Until.String()
	case EndAfterCount:
		text += fmt.Sprintf(", %d times", r.End.Count)
	}
	return text
}

func monthDayText(md int) string {
	switch {
	case md == -1:
		return "last day"
	case md < 0:
		return Ordinal(-md) + " to last day"
	default:
		return Ordinal(md)
	}
}
