package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/rbright/calendarize/internal/catalog"
	"github.com/rbright/calendarize/internal/config"
	"github.com/rbright/calendarize/internal/eds"
	"github.com/rbright/calendarize/internal/export"
	"github.com/rbright/calendarize/internal/recurrence"
	"github.com/rbright/calendarize/internal/schedule"
	"github.com/rbright/calendarize/internal/state"
)

// Usage is the one-line command synopsis.
const Usage = "calendarize <upcoming|after DATE|between START END|export [ID]|feed|watch|show ID|validate|calendars> [flags]"

var ErrUsage = errors.New("usage: " + Usage)

// NewFlagSet declares every flag the CLI accepts. Flags may appear before or
// after the subcommand.
func NewFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("calendarize", pflag.ContinueOnError)
	flags.String("events", "", "path to the YAML event catalog")
	flags.String("source", "", "event source: catalog or eds")
	flags.String("timezone", "", "IANA timezone for parsing dates and the default catalog zone")
	flags.String("order", "", "asc or desc")
	flags.Bool("unique", false, "keep only the first occurrence per event")
	flags.Int("limit", 0, "maximum number of occurrences (0 = no limit)")
	flags.String("output", "", "directory for written documents")
	flags.String("calendar-name", "", "X-WR-CALNAME of exported documents")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.StringToString("criteria", nil, "lookup criteria as key=value, repeatable")
	flags.Bool("write", false, "write export output to the output directory instead of stdout")
	flags.String("refresh", "", "cron schedule for watch, e.g. \"*/15 * * * *\"")
	return flags
}

func NewLogger(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Run executes the subcommand left in flags.Args() after parsing.
func Run(ctx context.Context, flags *pflag.FlagSet, cfg config.Runtime, stdout io.Writer, logger *slog.Logger) error {
	return run(ctx, flags, cfg, env{stdout: stdout, logger: logger, now: time.Now})
}

type env struct {
	stdout io.Writer
	logger *slog.Logger
	now    func() time.Time
}

// session holds what one command run needs: the source, its metadata and
// an engine with a cache scoped to this run.
type session struct {
	cfg      config.Runtime
	env      env
	loc      *time.Location
	source   schedule.Source
	metadata export.MetadataLookup
	catalog  *catalog.Catalog
	engine   *schedule.Engine
	options  schedule.Options
	closer   io.Closer
}

func run(ctx context.Context, flags *pflag.FlagSet, cfg config.Runtime, e env) error {
	if e.logger == nil {
		e.logger = slog.Default()
	}
	args := flags.Args()
	if len(args) == 0 {
		return ErrUsage
	}
	cmd, rest := strings.TrimSpace(args[0]), args[1:]

	switch cmd {
	case "upcoming", "after", "between", "export", "feed", "watch", "show", "validate", "calendars":
	default:
		return fmt.Errorf("unsupported command %q: %w", cmd, ErrUsage)
	}

	switch cmd {
	case "calendars":
		return listCalendars(ctx, cfg, e)
	case "watch":
		if err := expectArgs(rest, 0); err != nil {
			return err
		}
		return watch(ctx, flags, cfg, e)
	}

	s, err := openSession(ctx, flags, cfg, e)
	if err != nil {
		return err
	}
	defer func() {
		if s.closer != nil {
			_ = s.closer.Close()
		}
	}()

	switch cmd {
	case "upcoming":
		if err := expectArgs(rest, 0); err != nil {
			return err
		}
		return s.upcoming(ctx)
	case "after":
		if err := expectArgs(rest, 1); err != nil {
			return err
		}
		from, err := parseInstant(rest[0], s.loc)
		if err != nil {
			return err
		}
		return s.query(ctx, from, time.Time{})
	case "between":
		if err := expectArgs(rest, 2); err != nil {
			return err
		}
		start, err := parseInstant(rest[0], s.loc)
		if err != nil {
			return err
		}
		end, err := parseInstant(rest[1], s.loc)
		if err != nil {
			return err
		}
		return s.query(ctx, start, end)
	case "export":
		if len(rest) > 1 {
			return fmt.Errorf("unexpected argument %q: %w", rest[1], ErrUsage)
		}
		id := ""
		if len(rest) == 1 {
			id = strings.TrimSpace(rest[0])
		}
		write, _ := flags.GetBool("write")
		return s.export(ctx, id, write)
	case "feed":
		if err := expectArgs(rest, 0); err != nil {
			return err
		}
		return s.feed(ctx)
	case "show":
		if err := expectArgs(rest, 1); err != nil {
			return err
		}
		return s.show(rest[0])
	default:
		if err := expectArgs(rest, 0); err != nil {
			return err
		}
		return s.validate()
	}
}

func openSession(ctx context.Context, flags *pflag.FlagSet, cfg config.Runtime, e env) (*session, error) {
	criteria, err := flags.GetStringToString("criteria")
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg: cfg,
		env: e,
		loc: cfg.Location(),
		options: schedule.Options{
			Criteria: schedule.Criteria(criteria),
			Order:    cfg.Order,
			Unique:   cfg.Unique,
			Limit:    cfg.Limit,
		},
	}

	switch cfg.Source {
	case config.SourceEDS:
		client, err := eds.Dial(ctx, e.logger)
		if err != nil {
			return nil, err
		}
		source := eds.NewSource(client, cfg.QueryAhead, e.logger)
		s.source, s.metadata, s.closer = source, source, client
	default:
		c, err := catalog.Load(cfg.EventsFile, cfg.Timezone, e.logger)
		if err != nil {
			return nil, err
		}
		s.source, s.metadata, s.catalog = c, c, c
	}

	s.engine = schedule.New(s.source,
		schedule.WithCache(schedule.NewCache()),
		schedule.WithClock(e.now),
		schedule.WithLocation(s.loc),
		schedule.WithLogger(e.logger),
		schedule.WithMaxOccurrences(cfg.MaxOccurrences),
	)
	return s, nil
}

// upcoming without a limit is bounded by the configured look-ahead window.
func (s *session) upcoming(ctx context.Context) error {
	if s.options.Limit > 0 {
		items, err := s.engine.Upcoming(ctx, s.options)
		if err != nil {
			return err
		}
		return s.printEntries(items)
	}
	now := s.engine.Now()
	return s.query(ctx, now, now.Add(s.cfg.QueryAhead))
}

func (s *session) query(ctx context.Context, start, end time.Time) error {
	items, err := s.engine.Between(ctx, start, end, s.options)
	if err != nil {
		return err
	}
	return s.printEntries(items)
}

// window is the default range for exports: now through the look-ahead.
func (s *session) window(ctx context.Context) ([]schedule.Occurrence, error) {
	now := s.engine.Now()
	return s.engine.Between(ctx, now, now.Add(s.cfg.QueryAhead), s.options)
}

func (s *session) exporter() *export.Exporter {
	tz := s.cfg.Timezone
	if tz == "" && s.catalog != nil {
		tz = s.catalog.Timezone()
	}
	return export.New(export.Config{
		ProductID:    s.cfg.ProductID,
		CalendarName: s.cfg.CalendarName,
		Timezone:     tz,
		Now:          s.env.now,
	})
}

// nextOf finds the first occurrence of id in the export window. The
// configured limit, uniqueness and order shape listings, not this lookup.
func (s *session) nextOf(ctx context.Context, id string) (schedule.Occurrence, bool, error) {
	opts := schedule.Options{Criteria: s.options.Criteria, Order: schedule.OrderAsc}
	if s.catalog != nil {
		criteria := make(schedule.Criteria, len(s.options.Criteria)+1)
		for key, value := range s.options.Criteria {
			criteria[key] = value
		}
		criteria["id"] = id
		opts.Criteria = criteria
	}
	now := s.engine.Now()
	items, err := s.engine.Between(ctx, now, now.Add(s.cfg.QueryAhead), opts)
	if err != nil {
		return schedule.Occurrence{}, false, err
	}
	occ, ok := firstOf(items, id)
	return occ, ok, nil
}

func (s *session) export(ctx context.Context, id string, write bool) error {
	var (
		items    []schedule.Occurrence
		document []byte
		name     string
		err      error
	)
	if id == "" {
		items, err = s.window(ctx)
		if err != nil {
			return err
		}
		document, err = s.exporter().ExportMany(items, s.metadata)
		name = s.cfg.CalendarName
	} else {
		occ, ok, lookupErr := s.nextOf(ctx, id)
		if lookupErr != nil {
			return lookupErr
		}
		if !ok {
			return fmt.Errorf("no occurrence of %q in the next %s", id, s.cfg.QueryAhead)
		}
		items = []schedule.Occurrence{occ}
		meta, _ := s.metadata.Metadata(id)
		document, err = s.exporter().ExportSingle(occ, meta)
		name = meta.Title
	}
	if err != nil {
		return err
	}

	if !write {
		_, err := s.env.stdout.Write(document)
		return err
	}
	path := filepath.Join(s.cfg.OutputDir, export.Filename(name))
	if err := state.WriteDocument(path, document); err != nil {
		return err
	}
	s.env.logger.Info("calendar written", "path", path, "occurrences", len(items))
	_, err = fmt.Fprintln(s.env.stdout, path)
	return err
}

// feed refreshes the published document and the JSON snapshot beside it.
func (s *session) feed(ctx context.Context) error {
	items, err := s.window(ctx)
	if err != nil {
		return err
	}
	document, err := s.exporter().ExportMany(items, s.metadata)
	if err != nil {
		return err
	}

	docPath := filepath.Join(s.cfg.OutputDir, export.Filename(s.cfg.CalendarName))
	if err := state.WriteDocument(docPath, document); err != nil {
		return err
	}
	snapshotPath := filepath.Join(s.cfg.OutputDir, "occurrences.json")
	previous, err := state.LoadOccurrences(snapshotPath)
	if err != nil {
		s.env.logger.Warn("previous snapshot unreadable", "path", snapshotPath, "error", err)
	}
	added, removed := diffOccurrences(previous, items)
	if err := state.SaveOccurrences(snapshotPath, items); err != nil {
		return err
	}

	s.env.logger.Info("feed refreshed", "document", docPath, "snapshot", snapshotPath,
		"occurrences", len(items), "added", added, "removed", removed)
	_, err = fmt.Fprintln(s.env.stdout, docPath)
	return err
}

// diffOccurrences counts occurrences that appeared in or vanished from the
// feed since the previous snapshot, keyed by source and start instant.
func diffOccurrences(previous, current []schedule.Occurrence) (added, removed int) {
	type key struct {
		id    string
		start int64
	}
	seen := make(map[key]int, len(previous))
	for _, occ := range previous {
		seen[key{occ.SourceID, occ.Start.UnixNano()}]++
	}
	for _, occ := range current {
		k := key{occ.SourceID, occ.Start.UnixNano()}
		if seen[k] > 0 {
			seen[k]--
			continue
		}
		added++
	}
	for _, n := range seen {
		removed += n
	}
	return added, removed
}

// watch refreshes the feed once, then on every tick of the refresh schedule
// until ctx is cancelled. Each refresh opens a fresh session so lookups are
// never served from a previous run's cache.
func watch(ctx context.Context, flags *pflag.FlagSet, cfg config.Runtime, e env) error {
	spec, err := cron.ParseStandard(cfg.RefreshSchedule)
	if err != nil {
		return fmt.Errorf("refresh schedule %q: %w", cfg.RefreshSchedule, err)
	}

	refresh := func() {
		runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := refreshFeed(runCtx, flags, cfg, e); err != nil {
			e.logger.Error("feed refresh failed", "error", err)
		}
	}
	refresh()

	c := cron.New(cron.WithLocation(cfg.Location()))
	c.Schedule(spec, cron.FuncJob(refresh))
	c.Start()
	e.logger.Info("watching", "schedule", cfg.RefreshSchedule, "next", spec.Next(e.now()))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func refreshFeed(ctx context.Context, flags *pflag.FlagSet, cfg config.Runtime, e env) error {
	s, err := openSession(ctx, flags, cfg, e)
	if err != nil {
		return err
	}
	defer func() {
		if s.closer != nil {
			_ = s.closer.Close()
		}
	}()
	return s.feed(ctx)
}

type definitionView struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Pattern string  `json:"pattern"`
	Week    string  `json:"weekOfMonth,omitempty"`
	RRULE   string  `json:"rrule,omitempty"`
	Next    []entry `json:"next"`
}

func (s *session) show(id string) error {
	if s.catalog == nil {
		return fmt.Errorf("show requires the %s source", config.SourceCatalog)
	}
	ev, err := s.catalog.Event(id)
	if err != nil {
		return err
	}
	def, err := s.catalog.Definition(id)
	if err != nil {
		return err
	}

	now := s.engine.Now()
	next := recurrence.Generate(ev, recurrence.Query{Start: now, Limit: 5})
	view := definitionView{
		ID:      ev.ID(),
		Title:   def.Title,
		Pattern: ev.Describe(),
		RRULE:   ev.Rule().RRULE(),
		Next:    s.entries(next),
	}
	if rule := ev.Rule(); rule.Repeats && rule.Cadence == recurrence.Monthly {
		view.Week = recurrence.WeekMonthText(ev.Base().Start)
	}
	return writeJSON(s.env.stdout, view)
}

func (s *session) validate() error {
	if s.catalog == nil {
		return fmt.Errorf("validate requires the %s source", config.SourceCatalog)
	}
	_, err := fmt.Fprintf(s.env.stdout, "%s: %d definitions OK\n", s.cfg.EventsFile, s.catalog.Len())
	return err
}

func listCalendars(ctx context.Context, cfg config.Runtime, e env) error {
	client, err := eds.Dial(ctx, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	calendars, err := client.ListCalendars(ctx)
	if err != nil {
		return err
	}
	if err := state.SaveCalendars(filepath.Join(cfg.OutputDir, "calendars.json"), calendars); err != nil {
		return err
	}
	return writeJSON(e.stdout, calendars)
}

type entry struct {
	SourceID string    `json:"sourceId"`
	Title    string    `json:"title,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"allDay"`
	StartsIn string    `json:"startsIn"`
}

func (s *session) entries(items []schedule.Occurrence) []entry {
	now := s.env.now()
	out := make([]entry, 0, len(items))
	for _, occ := range items {
		meta, _ := s.metadata.Metadata(occ.SourceID)
		out = append(out, entry{
			SourceID: occ.SourceID,
			Title:    meta.Title,
			Start:    occ.Start,
			End:      occ.End,
			AllDay:   occ.AllDay,
			StartsIn: schedule.CountdownText(now, occ),
		})
	}
	return out
}

func (s *session) printEntries(items []schedule.Occurrence) error {
	return writeJSON(s.env.stdout, s.entries(items))
}

func firstOf(items []schedule.Occurrence, id string) (schedule.Occurrence, bool) {
	for _, occ := range items {
		if occ.SourceID == id {
			return occ, true
		}
	}
	return schedule.Occurrence{}, false
}

func expectArgs(rest []string, n int) error {
	if len(rest) != n {
		return fmt.Errorf("expected %d argument(s), got %d: %w", n, len(rest), ErrUsage)
	}
	return nil
}

var instantLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseInstant accepts RFC 3339 or a local datetime/date in loc.
func parseInstant(value string, loc *time.Location) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed, nil
	}
	for _, layout := range instantLayouts {
		if parsed, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}

func writeJSON(w io.Writer, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if _, err := w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
