package eds

import "time"

type Calendar struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	AccountName string `json:"accountName,omitempty"`
	ParentUID   string `json:"parentUid,omitempty"`
	Backend     string `json:"backend,omitempty"`
	Color       string `json:"color,omitempty"`
	Selected    bool   `json:"selected"`
	Enabled     bool   `json:"enabled"`
}

// RawEvent is one VEVENT as stored by the calendar backend, before it is
// turned into a recurrence definition.
type RawEvent struct {
	CalendarUID  string
	CalendarName string

	UID          string
	RecurrenceAt *time.Time

	Summary     string
	Description string
	Location    string
	URL         string
	Status      string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRULE   string
	RDates  []time.Time
	ExDates []time.Time
}
