package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/rbright/calendarize/internal/recurrence"
)

const (
	DefaultProductID = "-//rbright//calendarize//EN"

	localTimestampFormat = "20060102T150405"
	utcTimestampFormat   = "20060102T150405Z"
	dateFormat           = "20060102"
)

// uidNamespace scopes the name-based UUIDs derived for occurrences.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/rbright/calendarize"))

// Metadata describes the event an occurrence belongs to.
type Metadata struct {
	Title       string
	Description string
	Location    string
	URL         string
	// UIDSeed namespaces the derived UID. Empty seeds derive the UID from the
	// source id and start alone.
	UIDSeed string
}

type MetadataLookup interface {
	Metadata(sourceID string) (Metadata, bool)
}

type MetadataMap map[string]Metadata

func (m MetadataMap) Metadata(sourceID string) (Metadata, bool) {
	meta, ok := m[sourceID]
	return meta, ok
}

type Config struct {
	ProductID    string
	CalendarName string
	Timezone     string
	Now          func() time.Time
}

// Exporter renders occurrences as iCalendar documents. It performs no I/O.
type Exporter struct {
	productID    string
	calendarName string
	timezone     string
	now          func() time.Time
}

func New(cfg Config) *Exporter {
	e := &Exporter{
		productID:    strings.TrimSpace(cfg.ProductID),
		calendarName: strings.TrimSpace(cfg.CalendarName),
		timezone:     strings.TrimSpace(cfg.Timezone),
		now:          cfg.Now,
	}
	if e.productID == "" {
		e.productID = DefaultProductID
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Exporter) ExportSingle(occ recurrence.Occurrence, meta Metadata) ([]byte, error) {
	return e.ExportMany([]recurrence.Occurrence{occ}, MetadataMap{occ.SourceID: meta})
}

// ExportMany renders one VEVENT per occurrence inside a single VCALENDAR.
// Either the full document is returned or an error; no partial output.
func (e *Exporter) ExportMany(occs []recurrence.Occurrence, lookup MetadataLookup) ([]byte, error) {
	for field, value := range map[string]string{"productId": e.productID, "calendarName": e.calendarName, "timezone": e.timezone} {
		if _, err := cleanText("", field, value); err != nil {
			return nil, err
		}
	}

	cal := ics.NewCalendarFor("calendarize")
	cal.SetProductId(e.productID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ics.MethodPublish)
	if e.calendarName != "" {
		cal.SetXWRCalName(e.calendarName)
	}
	if e.timezone != "" {
		cal.SetXWRTimezone(e.timezone)
	}

	addTimezones(cal, occs)

	stamp := e.now().UTC()
	for _, occ := range occs {
		var meta Metadata
		if lookup != nil {
			meta, _ = lookup.Metadata(occ.SourceID)
		}
		if err := addEvent(cal, occ, meta, stamp); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf, ics.WithNewLineWindows); err != nil {
		return nil, fmt.Errorf("serialize calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func addEvent(cal *ics.Calendar, occ recurrence.Occurrence, meta Metadata, stamp time.Time) error {
	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = occ.SourceID
	}

	fields := []struct {
		name  string
		value string
		set   func(*ics.VEvent, string)
	}{
		{"title", title, func(ev *ics.VEvent, v string) { ev.SetSummary(v) }},
		{"description", meta.Description, func(ev *ics.VEvent, v string) { ev.SetDescription(v) }},
		{"location", meta.Location, func(ev *ics.VEvent, v string) { ev.SetLocation(v) }},
		{"url", meta.URL, func(ev *ics.VEvent, v string) { ev.SetURL(v) }},
	}
	cleaned := make([]string, len(fields))
	for i, field := range fields {
		value, err := cleanText(occ.SourceID, field.name, field.value)
		if err != nil {
			return err
		}
		cleaned[i] = value
	}
	if strings.ContainsAny(cleaned[3], " \n") {
		return &FieldError{SourceID: occ.SourceID, Field: "url", Reason: "whitespace in URI"}
	}

	ev := cal.AddEvent(UID(meta.UIDSeed, occ))
	ev.SetDtStampTime(stamp)
	setTimes(ev, occ)
	for i, field := range fields {
		if cleaned[i] == "" {
			continue
		}
		field.set(ev, cleaned[i])
	}
	return nil
}

func setTimes(ev *ics.VEvent, occ recurrence.Occurrence) {
	if occ.AllDay {
		ev.SetAllDayStartAt(occ.Start)
		end := occ.End
		if !end.After(occ.Start) {
			end = occ.Start.AddDate(0, 0, 1)
		}
		ev.SetAllDayEndAt(end)
		return
	}

	loc, zoned := zonedLocation(occ)
	if !zoned {
		ev.SetStartAt(occ.Start)
		ev.SetEndAt(occ.End)
		return
	}
	zone := loc.String()
	ev.SetProperty(ics.ComponentPropertyDtStart, occ.Start.Format(localTimestampFormat), ics.WithTZID(zone))
	ev.SetProperty(ics.ComponentPropertyDtEnd, occ.End.In(loc).Format(localTimestampFormat), ics.WithTZID(zone))
}

// UID derives a stable identifier from the seed, source id and start, so the
// same logical occurrence keeps its UID across exports.
func UID(seed string, occ recurrence.Occurrence) string {
	key := occ.Start.UTC().Format(utcTimestampFormat)
	if occ.AllDay {
		key = occ.Start.Format(dateFormat)
	}
	name := strings.Join([]string{seed, occ.SourceID, key}, "|")
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}

// cleanText normalizes line endings to LF and rejects what TEXT values cannot
// represent. Surrounding whitespace is kept; only titles are trimmed.
// Escaping itself is left to the serializer.
func cleanText(sourceID, field, value string) (string, error) {
	if !utf8.ValidString(value) {
		return "", &FieldError{SourceID: sourceID, Field: field, Reason: "invalid UTF-8"}
	}
	value = strings.ReplaceAll(value, "\r\n", "\n")
	value = strings.ReplaceAll(value, "\r", "\n")
	for _, r := range value {
		if r == '\n' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return "", &FieldError{SourceID: sourceID, Field: field, Reason: fmt.Sprintf("control character %U", r)}
		}
	}
	return value, nil
}
