package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/calendarize/internal/recurrence"
)

var (
	ErrInvalidWindow = errors.New("invalid query window")
	ErrInvalidOrder  = errors.New("invalid sort order")
)

type Occurrence = recurrence.Occurrence

// Criteria filters which recurring events a Source returns. Keys and values
// are interpreted by the source.
type Criteria map[string]string

// Canonical renders the criteria deterministically. encoding/json sorts map
// keys, so equal criteria always produce equal strings.
func (c Criteria) Canonical() string {
	if len(c) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(map[string]string(c))
	if err != nil {
		return fmt.Sprintf("%v", map[string]string(c))
	}
	return string(encoded)
}

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

func ParseOrder(value string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "asc", "ascending":
		return OrderAsc, nil
	case "desc", "descending":
		return OrderDesc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrder, value)
	}
}

// Options shapes a query. Unique caps every source at its first occurrence in
// the window; Limit truncates the merged result after sorting.
type Options struct {
	Criteria Criteria
	Order    Order
	Unique   bool
	Limit    int
}

// Source resolves the recurring events matching criteria. start and end bound
// the query window so a source can drop definitions that ended before it or
// fetch only what the window needs. A zero end leaves the window open.
type Source interface {
	Lookup(ctx context.Context, start, end time.Time, criteria Criteria) ([]recurrence.Event, error)
}
