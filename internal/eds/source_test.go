package eds

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/rbright/calendarize/internal/schedule"
)

type fakeBackend struct {
	calendars []Calendar
	raws      []RawEvent
	err       error

	gotCalendars []Calendar
	gotStart     time.Time
	gotEnd       time.Time
}

func (f *fakeBackend) ListCalendars(context.Context) ([]Calendar, error) {
	return f.calendars, f.err
}

func (f *fakeBackend) FetchEvents(_ context.Context, calendars []Calendar, start, end time.Time) ([]RawEvent, error) {
	f.gotCalendars = calendars
	f.gotStart = start
	f.gotEnd = end
	return f.raws, nil
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	return &fakeBackend{
		calendars: []Calendar{
			workCalendar,
			{UID: "cal-2", Name: "Personal", Enabled: true, Selected: false},
			{UID: "cal-3", Name: "Archive", Enabled: false, Selected: true},
		},
		raws: mustParse(t, weeklyPayload),
	}
}

func TestSource_LookupUsesSelectedCalendarsAndHorizon(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	source := NewSource(backend, 48*time.Hour, nil)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	events, err := source.Lookup(context.Background(), from, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if len(events) != 1 || events[0].ID() != "cal-1/weekly-1" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if len(backend.gotCalendars) != 1 || backend.gotCalendars[0].UID != "cal-1" {
		t.Fatalf("expected only the selected enabled calendar, got %+v", backend.gotCalendars)
	}
	if !backend.gotStart.Equal(from) || !backend.gotEnd.Equal(from.Add(48*time.Hour)) {
		t.Fatalf("unexpected window %s - %s", backend.gotStart, backend.gotEnd)
	}

	meta, ok := source.Metadata("cal-1/weekly-1")
	if !ok || meta.Title != "Team Sync" {
		t.Fatalf("expected metadata after lookup, got %+v (%v)", meta, ok)
	}
}

func TestSource_LookupFetchesBoundedWindow(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	source := NewSource(backend, 48*time.Hour, nil)
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	if _, err := source.Lookup(context.Background(), from, end, nil); err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if !backend.gotStart.Equal(from) || !backend.gotEnd.Equal(end) {
		t.Fatalf("expected the query window, got %s - %s", backend.gotStart, backend.gotEnd)
	}
}

func TestSource_LookupByCalendarName(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	source := NewSource(backend, 0, nil)

	if _, err := source.Lookup(context.Background(), time.Time{}, time.Time{}, schedule.Criteria{"calendar": "personal"}); err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if len(backend.gotCalendars) != 1 || backend.gotCalendars[0].UID != "cal-2" {
		t.Fatalf("expected the named calendar, got %+v", backend.gotCalendars)
	}
	if got := backend.gotEnd.Sub(backend.gotStart); got != DefaultHorizon {
		t.Fatalf("expected default horizon, got %s", got)
	}
}

func TestSource_LookupFiltersByTitle(t *testing.T) {
	t.Parallel()

	source := NewSource(newFakeBackend(t), 0, nil)
	events, err := source.Lookup(context.Background(), time.Time{}, time.Time{}, schedule.Criteria{"title": "standup"})
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestSource_LookupErrors(t *testing.T) {
	t.Parallel()

	source := NewSource(newFakeBackend(t), 0, nil)
	if _, err := source.Lookup(context.Background(), time.Time{}, time.Time{}, schedule.Criteria{"colour": "red"}); err == nil {
		t.Fatal("expected unknown criterion error")
	}

	failing := &fakeBackend{err: errors.New("bus down")}
	if _, err := NewSource(failing, 0, nil).Lookup(context.Background(), time.Time{}, time.Time{}, nil); err == nil {
		t.Fatal("expected backend error")
	}
}

const sourceData = `[Data Source]
DisplayName=Work
Enabled=true
Parent=account-1

[Calendar]
BackendName=caldav
Color=#62a0ea
Selected=true
`

const accountData = `[Data Source]
DisplayName=me@example.com
Enabled=true
`

func TestCalendarsFromSources(t *testing.T) {
	t.Parallel()

	managed := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/source/1": {
			"org.gnome.evolution.dataserver.Source": {
				"UID":  dbus.MakeVariant("cal-1"),
				"Data": dbus.MakeVariant(sourceData),
			},
		},
		"/source/2": {
			"org.gnome.evolution.dataserver.Source": {
				"UID":  dbus.MakeVariant("account-1"),
				"Data": dbus.MakeVariant(accountData),
			},
		},
	}

	calendars := calendarsFromSources(managed, slogDiscard())
	if len(calendars) != 1 {
		t.Fatalf("expected one calendar, got %+v", calendars)
	}
	got := calendars[0]
	if got.UID != "cal-1" || got.Name != "Work" || got.AccountName != "me@example.com" {
		t.Fatalf("unexpected calendar: %+v", got)
	}
	if !got.Enabled || !got.Selected || got.Backend != "caldav" || got.Color != "#62a0ea" {
		t.Fatalf("unexpected calendar flags: %+v", got)
	}
}

func TestBuildTimeRangeQuery(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	got := buildTimeRangeQuery(start, start.Add(24*time.Hour))
	want := `(occur-in-time-range? (make-time "20240101T090000Z") (make-time "20240102T090000Z"))`
	if got != want {
		t.Fatalf("query = %s, want %s", got, want)
	}
}

func TestBestMatchingService(t *testing.T) {
	t.Parallel()

	names := []string{"org.gnome.evolution.dataserver.Sources4", "org.gnome.evolution.dataserver.Sources5", "org.other"}
	if got := newestService(names, sourceServicePrefix); got != "org.gnome.evolution.dataserver.Sources5" {
		t.Fatalf("unexpected service %q", got)
	}
	if got := newestService([]string{"org.other"}, sourceServicePrefix); got != "" {
		t.Fatalf("expected no match, got %q", got)
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestParseDescriptor(t *testing.T) {
	t.Parallel()

	desc, err := parseDescriptor("cal-1", sourceData)
	if err != nil {
		t.Fatalf("parseDescriptor() error: %v", err)
	}
	if desc.calendar == nil || desc.calendar.BackendName != "caldav" {
		t.Fatalf("expected calendar section, got %+v", desc)
	}
	if desc.data.Parent != "account-1" || !flag(desc.data.Enabled, false) {
		t.Fatalf("unexpected data section: %+v", desc.data)
	}

	account, err := parseDescriptor("account-1", accountData)
	if err != nil {
		t.Fatalf("parseDescriptor() error: %v", err)
	}
	if account.calendar != nil {
		t.Fatal("account source should have no calendar section")
	}
	if !flag("", true) || flag("nonsense", false) {
		t.Fatal("flag should fall back on empty or invalid values")
	}
}
