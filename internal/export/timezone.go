package export

import (
	"fmt"
	"sort"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/rbright/calendarize/internal/recurrence"
)

type zoneSpan struct {
	loc      *time.Location
	fromYear int
	toYear   int
}

// zonedLocation reports the TZID a timed occurrence is written with, or
// false when it is written in UTC form.
func zonedLocation(occ recurrence.Occurrence) (*time.Location, bool) {
	if occ.AllDay {
		return nil, false
	}
	loc := occ.Start.Location()
	switch loc.String() {
	case "UTC", "Local", "":
		return nil, false
	}
	return loc, true
}

// addTimezones writes one VTIMEZONE per TZID referenced by occs, covering
// every year those occurrences touch.
func addTimezones(cal *ics.Calendar, occs []recurrence.Occurrence) {
	spans := make(map[string]*zoneSpan)
	for _, occ := range occs {
		loc, ok := zonedLocation(occ)
		if !ok {
			continue
		}
		first, last := occ.Start.Year(), occ.End.In(loc).Year()
		if last < first {
			last = first
		}
		span, seen := spans[loc.String()]
		if !seen {
			spans[loc.String()] = &zoneSpan{loc: loc, fromYear: first, toYear: last}
			continue
		}
		span.fromYear = min(span.fromYear, first)
		span.toYear = max(span.toYear, last)
	}

	names := make([]string, 0, len(spans))
	for name := range spans {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		span := spans[name]
		writeObservances(cal.AddTimezone(name), span.loc, span.fromYear, span.toYear)
	}
}

// writeObservances emits the observance in force on Jan 1 of fromYear and
// every offset change up to the end of toYear.
func writeObservances(tz *ics.VTimezone, loc *time.Location, fromYear, toYear int) {
	from := time.Date(fromYear, time.January, 1, 0, 0, 0, 0, loc)
	until := time.Date(toYear+1, time.January, 1, 0, 0, 0, 0, loc)

	_, offset := from.Zone()
	addObservance(tz, from, offset)

	prev, prevOffset := from, offset
	for prev.Before(until) {
		next := prev.Add(24 * time.Hour)
		if next.After(until) {
			next = until
		}
		if _, off := next.Zone(); off != prevOffset {
			at := transitionBetween(prev, next, loc)
			addObservance(tz, at, prevOffset)
			prevOffset = off
		}
		prev = next
	}
}

// transitionBetween finds the first second after lo that uses hi's offset.
func transitionBetween(lo, hi time.Time, loc *time.Location) time.Time {
	_, want := hi.Zone()
	l, h := lo.Unix(), hi.Unix()
	for h-l > 1 {
		m := l + (h-l)/2
		if _, off := time.Unix(m, 0).In(loc).Zone(); off == want {
			h = m
		} else {
			l = m
		}
	}
	return time.Unix(h, 0).In(loc)
}

// addObservance writes the observance starting at instant at. DTSTART is the
// wall clock time under the offset in force just before it.
func addObservance(tz *ics.VTimezone, at time.Time, fromOffset int) {
	name, toOffset := at.Zone()

	var base *ics.ComponentBase
	if at.IsDST() {
		daylight := &ics.Daylight{}
		tz.Components = append(tz.Components, daylight)
		base = &daylight.ComponentBase
	} else {
		base = &tz.AddStandard().ComponentBase
	}

	wall := at.UTC().Add(time.Duration(fromOffset) * time.Second)
	base.AddProperty(ics.ComponentPropertyDtStart, wall.Format(localTimestampFormat))
	base.AddProperty(ics.ComponentProperty(ics.PropertyTzoffsetfrom), formatOffset(fromOffset))
	base.AddProperty(ics.ComponentProperty(ics.PropertyTzoffsetto), formatOffset(toOffset))
	base.AddProperty(ics.ComponentProperty(ics.PropertyTzname), name)
}

// formatOffset renders seconds east of UTC as a UTC-OFFSET value: +hhmm, or
// +hhmmss for zones with second offsets.
func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}
