package eds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	calendarFactoryPath  = "/org/gnome/evolution/dataserver/CalendarFactory"
	calendarFactoryIface = "org.gnome.evolution.dataserver.CalendarFactory"
	calendarIface        = "org.gnome.evolution.dataserver.Calendar"
)

// FetchEvents returns every VEVENT, masters and overrides alike, that has an
// instance inside the window. A calendar that fails is logged and skipped;
// the call only fails when nothing could be read.
func (c *Client) FetchEvents(ctx context.Context, calendars []Calendar, windowStart, windowEnd time.Time) ([]RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(calendars) == 0 {
		return nil, nil
	}

	query := buildTimeRangeQuery(windowStart, windowEnd)
	factory := c.conn.Object(c.calendarService, dbus.ObjectPath(calendarFactoryPath))

	events := make([]RawEvent, 0, 64)
	failures := make([]string, 0)

	for _, calendar := range calendars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(calendar.UID) == "" {
			continue
		}

		payloads, err := c.queryCalendar(ctx, factory, calendar.UID, query)
		if err != nil {
			c.logger.Warn("calendar query failed", "calendar", calendar.Name, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %s", calendar.Name, err.Error()))
			continue
		}

		for _, payload := range payloads {
			mapped, err := parseEventPayload(calendar, payload)
			if err != nil {
				c.logger.Debug("skipping unparsable payload", "calendar", calendar.Name, "error", err)
				continue
			}
			events = append(events, mapped...)
		}
	}

	if len(events) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("query calendars: %s", strings.Join(failures, "; "))
	}
	return events, nil
}

func (c *Client) queryCalendar(ctx context.Context, factory dbus.BusObject, uid, query string) ([]string, error) {
	objectPath, busName, err := openCalendar(ctx, factory, uid)
	if err != nil {
		return nil, err
	}

	calendarObj := c.conn.Object(busName, dbus.ObjectPath(objectPath))
	defer calendarObj.CallWithContext(ctx, calendarIface+".Close", 0)

	var properties []string
	if err := calendarObj.CallWithContext(ctx, calendarIface+".Open", 0).Store(&properties); err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	var payloads []string
	if err := calendarObj.CallWithContext(ctx, calendarIface+".GetObjectList", 0, query).Store(&payloads); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return payloads, nil
}

func openCalendar(ctx context.Context, factory dbus.BusObject, sourceUID string) (objectPath string, busName string, err error) {
	if callErr := factory.CallWithContext(ctx, calendarFactoryIface+".OpenCalendar", 0, strings.TrimSpace(sourceUID)).Store(&objectPath, &busName); callErr != nil {
		return "", "", fmt.Errorf("OpenCalendar: %w", callErr)
	}
	if strings.TrimSpace(objectPath) == "" {
		return "", "", fmt.Errorf("OpenCalendar returned empty object path")
	}
	if strings.TrimSpace(busName) == "" {
		return "", "", fmt.Errorf("OpenCalendar returned empty bus name")
	}
	return objectPath, busName, nil
}

func buildTimeRangeQuery(windowStart, windowEnd time.Time) string {
	start := windowStart.UTC().Format("20060102T150405Z")
	end := windowEnd.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("(occur-in-time-range? (make-time \"%s\") (make-time \"%s\"))", start, end)
}
