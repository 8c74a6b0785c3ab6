package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rbright/calendarize/internal/export"
	"github.com/rbright/calendarize/internal/recurrence"
	"github.com/rbright/calendarize/internal/schedule"
)

const (
	SourceCatalog = "catalog"
	SourceEDS     = "eds"
)

type Runtime struct {
	ConfigFile string

	EventsFile string
	Source     string
	Timezone   string

	Order          schedule.Order
	Unique         bool
	Limit          int
	QueryAhead     time.Duration
	MaxOccurrences int

	OutputDir    string
	ProductID    string
	CalendarName string

	RefreshSchedule string

	LogLevel slog.Level
	Timeout  time.Duration
}

const DefaultRefreshSchedule = "*/15 * * * *"

// flagKeys maps config keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"events_file":   "events",
	"source":        "source",
	"timezone":      "timezone",
	"order":         "order",
	"unique":        "unique",
	"limit":         "limit",
	"output_dir":    "output",
	"calendar_name": "calendar-name",
	"log_level":     "log-level",
	"refresh":       "refresh",
}

// Load resolves configuration from, in increasing priority: defaults, the
// env file, the environment and any changed flag in flags. flags may be nil.
func Load(flags *pflag.FlagSet) (Runtime, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Runtime{}, fmt.Errorf("resolve home dir: %w", err)
	}

	xdgConfig := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	xdgState := strings.TrimSpace(os.Getenv("XDG_STATE_HOME"))
	if xdgState == "" {
		xdgState = filepath.Join(home, ".local", "state")
	}

	configFile := strings.TrimSpace(os.Getenv("CALENDARIZE_CONFIG_FILE"))
	if configFile == "" {
		configFile = filepath.Join(xdgConfig, "calendarize", "calendarize.env")
	}
	if err := loadEnvFile(configFile); err != nil {
		return Runtime{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("CALENDARIZE")
	v.AutomaticEnv()

	v.SetDefault("events_file", filepath.Join(xdgConfig, "calendarize", "events.yaml"))
	v.SetDefault("source", SourceCatalog)
	v.SetDefault("timezone", "")
	v.SetDefault("order", string(schedule.OrderAsc))
	v.SetDefault("unique", false)
	v.SetDefault("limit", 0)
	v.SetDefault("query_ahead_days", 90)
	v.SetDefault("max_occurrences", recurrence.DefaultMaxOccurrences)
	v.SetDefault("output_dir", filepath.Join(xdgState, "calendarize"))
	v.SetDefault("product_id", export.DefaultProductID)
	v.SetDefault("calendar_name", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("timeout_seconds", 20)
	v.SetDefault("refresh", DefaultRefreshSchedule)

	if flags != nil {
		for key, name := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Runtime{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	source := strings.ToLower(strings.TrimSpace(v.GetString("source")))
	if source != SourceCatalog && source != SourceEDS {
		return Runtime{}, fmt.Errorf("source must be %q or %q, got %q", SourceCatalog, SourceEDS, source)
	}

	timezone := strings.TrimSpace(v.GetString("timezone"))
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return Runtime{}, fmt.Errorf("timezone: %w", err)
		}
	}

	order, err := schedule.ParseOrder(v.GetString("order"))
	if err != nil {
		return Runtime{}, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(v.GetString("log_level")))); err != nil {
		return Runtime{}, fmt.Errorf("log level: %w", err)
	}

	refresh := strings.TrimSpace(v.GetString("refresh"))
	if refresh == "" {
		refresh = DefaultRefreshSchedule
	}
	if _, err := cron.ParseStandard(refresh); err != nil {
		return Runtime{}, fmt.Errorf("refresh schedule %q: %w", refresh, err)
	}

	limit := v.GetInt("limit")
	if limit < 0 {
		limit = 0
	}

	queryAheadDays := v.GetInt("query_ahead_days")
	if queryAheadDays <= 0 {
		queryAheadDays = 90
	}

	maxOccurrences := v.GetInt("max_occurrences")
	if maxOccurrences <= 0 {
		maxOccurrences = recurrence.DefaultMaxOccurrences
	}

	timeoutSeconds := v.GetInt("timeout_seconds")
	if timeoutSeconds <= 0 {
		timeoutSeconds = 20
	}

	outputDir := strings.TrimSpace(v.GetString("output_dir"))
	if outputDir == "" {
		outputDir = filepath.Join(xdgState, "calendarize")
	}

	productID := strings.TrimSpace(v.GetString("product_id"))
	if productID == "" {
		productID = export.DefaultProductID
	}

	return Runtime{
		ConfigFile:      configFile,
		EventsFile:      strings.TrimSpace(v.GetString("events_file")),
		Source:          source,
		Timezone:        timezone,
		Order:           order,
		Unique:          v.GetBool("unique"),
		Limit:           limit,
		QueryAhead:      time.Duration(queryAheadDays) * 24 * time.Hour,
		MaxOccurrences:  maxOccurrences,
		OutputDir:       outputDir,
		ProductID:       productID,
		CalendarName:    strings.TrimSpace(v.GetString("calendar_name")),
		RefreshSchedule: refresh,
		LogLevel:        level,
		Timeout:         time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Location resolves Timezone, falling back to the process local zone.
func (r Runtime) Location() *time.Location {
	if r.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// loadEnvFile exports the variables in path without overriding ones already
// set in the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
