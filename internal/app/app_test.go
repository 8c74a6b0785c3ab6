package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rbright/calendarize/internal/config"
	"github.com/rbright/calendarize/internal/schedule"
	"github.com/rbright/calendarize/internal/state"
)

const testCatalog = `
timezone: UTC
events:
  - id: standup
    title: Standup
    start: 2024-03-04T09:00
    end: 2024-03-04T09:15
    repeats: true
    repeatType: weekly
    days: [mon, wed]
  - id: review
    title: Quarterly Review
    location: Room 1
    start: 2024-03-06T14:00
    end: 2024-03-06T15:00
`

var fixedNow = time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

func testRuntime(t *testing.T) config.Runtime {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "events.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return config.Runtime{
		EventsFile:     path,
		Source:         config.SourceCatalog,
		Timezone:       "UTC",
		Order:          schedule.OrderAsc,
		QueryAhead:     7 * 24 * time.Hour,
		MaxOccurrences: 100,
		OutputDir:      filepath.Join(dir, "out"),
		ProductID:      "-//test//calendarize//EN",
		CalendarName:   "Team",
	}
}

func runArgs(t *testing.T, cfg config.Runtime, args ...string) (string, error) {
	t.Helper()
	flags := NewFlagSet()
	if err := flags.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	var stdout bytes.Buffer
	err := run(context.Background(), flags, cfg, env{
		stdout: &stdout,
		logger: slog.New(slog.DiscardHandler),
		now:    func() time.Time { return fixedNow },
	})
	return stdout.String(), err
}

func decodeEntries(t *testing.T, out string) []entry {
	t.Helper()
	var entries []entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	return entries
}

func TestRun_UpcomingWithLimit(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	cfg.Limit = 3
	out, err := runArgs(t, cfg, "upcoming")
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}

	entries := decodeEntries(t, out)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []string{"standup", "review", "standup"}
	for i, e := range entries {
		if e.SourceID != want[i] {
			t.Fatalf("entry %d = %s, want %s", i, e.SourceID, want[i])
		}
	}
	if entries[0].Title != "Standup" || entries[0].StartsIn != "1d 1h" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
}

func TestRun_BetweenDescendingUnique(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	cfg.Order = schedule.OrderDesc
	cfg.Unique = true
	out, err := runArgs(t, cfg, "between", "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	entries := decodeEntries(t, out)
	if len(entries) != 2 || entries[0].SourceID != "review" || entries[1].SourceID != "standup" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[1].Start.Day() != 4 {
		t.Fatalf("expected the first standup in the window, got %s", entries[1].Start)
	}
}

func TestRun_AfterWithCriteria(t *testing.T) {
	t.Parallel()

	out, err := runArgs(t, testRuntime(t), "after", "2024-03-05T00:00", "--criteria", "id=review")
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	entries := decodeEntries(t, out)
	if len(entries) != 1 || entries[0].SourceID != "review" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestRun_ExportSingleToStdout(t *testing.T) {
	t.Parallel()

	out, err := runArgs(t, testRuntime(t), "export", "review")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, want := range []string{"BEGIN:VCALENDAR", "SUMMARY:Quarterly Review", "LOCATION:Room 1", "DTSTART:20240306T140000Z", "X-WR-CALNAME:Team"} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "BEGIN:VEVENT") != 1 {
		t.Fatalf("expected a single VEVENT:\n%s", out)
	}

	if _, err := runArgs(t, testRuntime(t), "export", "missing"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestRun_ExportSingleIgnoresListingLimit(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	cfg.Limit = 1
	cfg.Order = schedule.OrderDesc
	out, err := runArgs(t, cfg, "export", "review")
	if err != nil {
		t.Fatalf("export with a limit that only admits the standup: %v", err)
	}
	if !strings.Contains(out, "DTSTART:20240306T140000Z") {
		t.Fatalf("expected the review occurrence:\n%s", out)
	}
}

func TestRun_ExportWrite(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	out, err := runArgs(t, cfg, "export", "--write")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	path := strings.TrimSpace(out)
	if path != filepath.Join(cfg.OutputDir, "team.ics") {
		t.Fatalf("unexpected output path %q", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	// Mar 6 and Mar 11 standups plus the review.
	if got := strings.Count(string(raw), "BEGIN:VEVENT"); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
}

func TestRun_FeedWritesDocumentAndSnapshot(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	if _, err := runArgs(t, cfg, "feed"); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "team.ics")); err != nil {
		t.Fatalf("expected feed document: %v", err)
	}
	snapshot, err := state.LoadOccurrences(filepath.Join(cfg.OutputDir, "occurrences.json"))
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 occurrences in snapshot, got %d", len(snapshot))
	}
}

func TestDiffOccurrences(t *testing.T) {
	t.Parallel()

	at := func(day int) time.Time { return time.Date(2024, 3, day, 9, 0, 0, 0, time.UTC) }
	previous := []schedule.Occurrence{
		{SourceID: "standup", Start: at(4)},
		{SourceID: "standup", Start: at(6)},
		{SourceID: "review", Start: at(6)},
	}
	current := []schedule.Occurrence{
		{SourceID: "standup", Start: at(6)},
		{SourceID: "review", Start: at(6).In(time.FixedZone("CET", 3600))},
		{SourceID: "standup", Start: at(11)},
	}

	added, removed := diffOccurrences(previous, current)
	if added != 1 || removed != 1 {
		t.Fatalf("diffOccurrences() = %d added, %d removed; want 1, 1", added, removed)
	}
	if added, removed := diffOccurrences(nil, current); added != 3 || removed != 0 {
		t.Fatalf("first snapshot = %d added, %d removed", added, removed)
	}
}

func TestRun_WatchRefreshesUntilCancelled(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	cfg.RefreshSchedule = "0 * * * *"
	cfg.Timeout = 5 * time.Second

	flags := NewFlagSet()
	if err := flags.Parse([]string{"watch"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout bytes.Buffer
	err := run(ctx, flags, cfg, env{
		stdout: &stdout,
		logger: slog.New(slog.DiscardHandler),
		now:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	// The initial refresh runs with an already cancelled context, so no
	// document is written and the failure is only logged.
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "team.ics")); err == nil {
		t.Fatal("expected no document from a cancelled refresh")
	}
}

func TestRun_WatchRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	cfg.RefreshSchedule = "whenever"
	if _, err := runArgs(t, cfg, "watch"); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRun_ShowAndValidate(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	out, err := runArgs(t, cfg, "show", "standup")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var view definitionView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if view.RRULE != "FREQ=WEEKLY;BYDAY=MO,WE" || len(view.Next) != 5 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Pattern != "Weekly on Monday, Wednesday" || view.Week != "" {
		t.Fatalf("unexpected pattern %q / week %q", view.Pattern, view.Week)
	}

	out, err = runArgs(t, cfg, "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "2 definitions OK") {
		t.Fatalf("unexpected validate output %q", out)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	for _, args := range [][]string{{}, {"status"}, {"after"}, {"between", "2024-01-01"}, {"upcoming", "extra"}} {
		if _, err := runArgs(t, cfg, args...); !errors.Is(err, ErrUsage) {
			t.Fatalf("args %v: expected ErrUsage, got %v", args, err)
		}
	}
	if _, err := runArgs(t, cfg, "after", "yesterday"); err == nil {
		t.Fatal("expected invalid date error")
	}
	if _, err := runArgs(t, cfg, "between", "2024-03-10", "2024-03-01"); !errors.Is(err, schedule.ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestRun_MissingCatalog(t *testing.T) {
	t.Parallel()

	cfg := testRuntime(t)
	cfg.EventsFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := runArgs(t, cfg, "upcoming"); err == nil {
		t.Fatal("expected error for missing catalog")
	}
}
