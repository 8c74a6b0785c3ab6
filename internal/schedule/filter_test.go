package schedule

import (
	"testing"
	"time"
)

func TestSortOccurrences_StableForTies(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	items := []Occurrence{
		{SourceID: "late", Start: at.Add(time.Hour)},
		{SourceID: "b", Start: at},
		{SourceID: "a", Start: at},
	}

	SortOccurrences(items, time.UTC)
	got := []string{items[0].SourceID, items[1].SourceID, items[2].SourceID}
	want := []string{"b", "a", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortOccurrences() order = %v, want %v", got, want)
		}
	}
}

func TestSortOccurrences_AllDayComparesByDate(t *testing.T) {
	t.Parallel()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	items := []Occurrence{
		{SourceID: "utc", Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), AllDay: true},
		{SourceID: "tokyo", Start: time.Date(2024, 3, 1, 0, 0, 0, 0, tokyo), AllDay: true},
	}

	SortOccurrences(items, time.UTC)
	if items[0].SourceID != "utc" {
		t.Fatalf("expected same-date all-day items to keep input order, got %q first", items[0].SourceID)
	}
}

func TestSortOccurrences_MixedZonesStayOrdered(t *testing.T) {
	t.Parallel()

	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	items := []Occurrence{
		{SourceID: "all-day-new-york", Start: time.Date(2024, 1, 2, 0, 0, 0, 0, newYork), AllDay: true},
		{SourceID: "timed", Start: time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)},
		{SourceID: "all-day-utc", Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), AllDay: true},
	}

	SortOccurrences(items, time.UTC)
	got := []string{items[0].SourceID, items[1].SourceID, items[2].SourceID}
	want := []string{"all-day-new-york", "all-day-utc", "timed"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortOccurrences() order = %v, want %v", got, want)
		}
	}
	for i := 1; i < len(items); i++ {
		if sortKey(items[i], time.UTC).Before(sortKey(items[i-1], time.UTC)) {
			t.Fatalf("%s sorts before %s but was placed after it", items[i].SourceID, items[i-1].SourceID)
		}
	}
}

func TestLimit(t *testing.T) {
	t.Parallel()

	items := make([]Occurrence, 5)
	if got := len(Limit(items, 3)); got != 3 {
		t.Fatalf("Limit(5, 3) = %d items", got)
	}
	if got := len(Limit(items, 0)); got != 5 {
		t.Fatalf("Limit(5, 0) = %d items", got)
	}
	if got := len(Limit(items, 9)); got != 5 {
		t.Fatalf("Limit(5, 9) = %d items", got)
	}
}

func TestCountdownText(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := CountdownText(now, Occurrence{Start: now.Add(-time.Minute)}); got != "now" {
		t.Fatalf("CountdownText() for started item = %q", got)
	}
	if got := CountdownText(now, Occurrence{Start: now.Add(90 * time.Minute)}); got != "1h 30m" {
		t.Fatalf("CountdownText() = %q, want %q", got, "1h 30m")
	}
}

func TestHumanizeDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   time.Duration
		out  string
	}{
		{name: "minutes", in: 24 * time.Minute, out: "24m"},
		{name: "hours_minutes", in: 4*time.Hour + 24*time.Minute, out: "4h 24m"},
		{name: "days_hours_minutes", in: 2*24*time.Hour + 3*time.Hour + 5*time.Minute, out: "2d 3h 5m"},
		{name: "seconds_round_up", in: 10 * time.Second, out: "1m"},
		{name: "negative", in: -time.Minute, out: "now"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := HumanizeDuration(tc.in); got != tc.out {
				t.Fatalf("HumanizeDuration() = %q, want %q", got, tc.out)
			}
		})
	}
}

func TestParseOrder(t *testing.T) {
	t.Parallel()

	if order, err := ParseOrder(""); err != nil || order != OrderAsc {
		t.Fatalf("ParseOrder(\"\") = %q, %v", order, err)
	}
	if order, err := ParseOrder("DESC"); err != nil || order != OrderDesc {
		t.Fatalf("ParseOrder(DESC) = %q, %v", order, err)
	}
	if _, err := ParseOrder("sideways"); err == nil {
		t.Fatal("expected error for unknown order")
	}
}

func TestCriteriaCanonical(t *testing.T) {
	t.Parallel()

	a := Criteria{"section": "events", "tag": "music"}
	b := Criteria{"tag": "music", "section": "events"}
	if a.Canonical() != b.Canonical() {
		t.Fatalf("canonical forms differ: %s vs %s", a.Canonical(), b.Canonical())
	}
	if Criteria(nil).Canonical() != "{}" {
		t.Fatalf("unexpected canonical form for nil criteria: %s", Criteria(nil).Canonical())
	}
}
