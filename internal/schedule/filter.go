package schedule

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/calendarize/internal/recurrence"
)

// SortOccurrences orders items ascending by start. All-day occurrences sort
// as midnight of their date in loc, whatever zone they were generated in,
// so same-date all-day items tie. The sort is stable, so ties keep the order
// in which sources produced them.
func SortOccurrences(items []Occurrence, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	keys := make([]time.Time, len(items))
	for i, item := range items {
		keys[i] = sortKey(item, loc)
	}
	sort.Stable(byKey{items: items, keys: keys})
}

func sortKey(item Occurrence, loc *time.Location) time.Time {
	if item.AllDay {
		return recurrence.DateOf(item.Start).In(loc)
	}
	return item.Start
}

type byKey struct {
	items []Occurrence
	keys  []time.Time
}

func (b byKey) Len() int           { return len(b.items) }
func (b byKey) Less(i, j int) bool { return b.keys[i].Before(b.keys[j]) }
func (b byKey) Swap(i, j int) {
	b.items[i], b.items[j] = b.items[j], b.items[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}

func Reverse(items []Occurrence) {
	slices.Reverse(items)
}

// Limit truncates items to at most n entries. n <= 0 keeps everything.
func Limit(items []Occurrence, n int) []Occurrence {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}

func CountdownText(now time.Time, item Occurrence) string {
	if !item.Start.After(now) {
		return "now"
	}
	return HumanizeDuration(item.Start.Sub(now))
}

func HumanizeDuration(d time.Duration) string {
	if d <= 0 {
		return "now"
	}

	minutes := int(math.Ceil(d.Minutes()))
	days := minutes / (24 * 60)
	remaining := minutes % (24 * 60)
	hours := remaining / 60
	mins := remaining % 60

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+"h")
	}
	if mins > 0 {
		parts = append(parts, strconv.Itoa(mins)+"m")
	}
	if len(parts) == 0 {
		return "now"
	}
	return strings.Join(parts, " ")
}
