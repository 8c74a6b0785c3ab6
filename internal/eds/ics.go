package eds

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

func parseEventPayload(calendar Calendar, payload string) ([]RawEvent, error) {
	wrapped := "BEGIN:VCALENDAR\n" + strings.TrimSpace(payload) + "\nEND:VCALENDAR\n"
	parsed, err := ics.ParseCalendar(strings.NewReader(wrapped))
	if err != nil {
		return nil, fmt.Errorf("parse ics payload: %w", err)
	}

	events := parsed.Events()
	results := make([]RawEvent, 0, len(events))
	for _, event := range events {
		raw, err := mapEvent(calendar, event)
		if err != nil {
			continue
		}
		results = append(results, raw)
	}
	return results, nil
}

func mapEvent(calendar Calendar, event *ics.VEvent) (RawEvent, error) {
	startProp := event.GetProperty(ics.ComponentPropertyDtStart)
	if startProp == nil {
		return RawEvent{}, fmt.Errorf("event without DTSTART")
	}
	allDay := isAllDay(startProp)

	start, err := parseICSTimeValue(startProp.Value, startProp.ICalParameters)
	if err != nil {
		return RawEvent{}, err
	}

	end := start
	if endProp := event.GetProperty(ics.ComponentPropertyDtEnd); endProp != nil {
		if parsed, err := parseICSTimeValue(endProp.Value, endProp.ICalParameters); err == nil && !parsed.Before(start) {
			end = parsed
		}
	}
	if allDay && !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}

	uid := strings.TrimSpace(propertyValue(event.GetProperty(ics.ComponentPropertyUniqueId)))
	if uid == "" {
		return RawEvent{}, fmt.Errorf("event without UID")
	}

	var recurrenceAt *time.Time
	if prop := event.GetProperty(ics.ComponentPropertyRecurrenceId); prop != nil {
		if parsed, err := parseICSTimeValue(prop.Value, prop.ICalParameters); err == nil {
			recurrenceAt = &parsed
		}
	}

	return RawEvent{
		CalendarUID:  calendar.UID,
		CalendarName: calendar.Name,
		UID:          uid,
		RecurrenceAt: recurrenceAt,
		Summary:      sanitize(propertyValue(event.GetProperty(ics.ComponentPropertySummary))),
		Description:  strings.TrimSpace(propertyValue(event.GetProperty(ics.ComponentPropertyDescription))),
		Location:     strings.TrimSpace(propertyValue(event.GetProperty(ics.ComponentPropertyLocation))),
		URL:          strings.TrimSpace(propertyValue(event.GetProperty(ics.ComponentPropertyUrl))),
		Status:       strings.ToUpper(sanitize(propertyValue(event.GetProperty(ics.ComponentPropertyStatus)))),
		Start:        start,
		End:          end,
		AllDay:       allDay,
		RRULE:        strings.TrimSpace(propertyValue(event.GetProperty(ics.ComponentPropertyRrule))),
		RDates:       collectDateTimes(event.GetProperties(ics.ComponentPropertyRdate)),
		ExDates:      collectDateTimes(event.GetProperties(ics.ComponentPropertyExdate)),
	}, nil
}

func collectDateTimes(properties []*ics.IANAProperty) []time.Time {
	var results []time.Time
	for _, property := range properties {
		if property == nil {
			continue
		}
		for _, value := range strings.Split(property.Value, ",") {
			parsed, err := parseICSTimeValue(value, property.ICalParameters)
			if err != nil {
				continue
			}
			results = append(results, parsed)
		}
	}
	return results
}

var icsTimeLayouts = []string{
	"20060102T150405Z",
	"20060102T1504Z",
	"20060102T150405",
	"20060102T1504",
	"20060102",
}

// parseICSTimeValue honours TZID and falls back to the local zone for
// floating times.
func parseICSTimeValue(value string, params map[string][]string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}

	loc := time.Local
	if tzIDs, ok := params["TZID"]; ok && len(tzIDs) > 0 && strings.TrimSpace(tzIDs[0]) != "" {
		if loaded, err := time.LoadLocation(strings.TrimSpace(tzIDs[0])); err == nil {
			loc = loaded
		}
	}

	for _, layout := range icsTimeLayouts {
		if strings.HasSuffix(layout, "Z") {
			if parsed, err := time.Parse(layout, trimmed); err == nil {
				return parsed, nil
			}
			continue
		}
		if parsed, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time value %q", trimmed)
}

func isAllDay(property *ics.IANAProperty) bool {
	if property == nil {
		return false
	}
	for _, value := range property.ICalParameters["VALUE"] {
		if strings.EqualFold(strings.TrimSpace(value), "DATE") {
			return true
		}
	}
	return len(strings.TrimSpace(property.Value)) == 8
}

func propertyValue(property *ics.IANAProperty) string {
	if property == nil {
		return ""
	}
	return property.Value
}

func sanitize(value string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(value)), " ")
}
