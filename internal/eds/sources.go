package eds

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
	"gopkg.in/ini.v1"
)

const sourceIface = "org.gnome.evolution.dataserver.Source"

// descriptor is one source file from the registry. Only sources with a
// [Calendar] section are calendars; the rest (accounts, collections) are
// kept to resolve parent names.
type descriptor struct {
	uid      string
	data     dataSection
	calendar *calendarSection
}

type dataSection struct {
	DisplayName string `ini:"DisplayName"`
	Parent      string `ini:"Parent"`
	Enabled     string `ini:"Enabled"`
}

type calendarSection struct {
	BackendName string `ini:"BackendName"`
	Color       string `ini:"Color"`
	Enabled     string `ini:"Enabled"`
	Selected    string `ini:"Selected"`
}

// ListCalendars reads every calendar source registered with the source
// registry, sorted by name.
func (c *Client) ListCalendars(ctx context.Context) ([]Calendar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manager := c.conn.Object(c.sourceService, "/org/gnome/evolution/dataserver/SourceManager")
	managed := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	if err := manager.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return nil, fmt.Errorf("eds GetManagedObjects: %w", err)
	}
	return calendarsFromSources(managed, c.logger), nil
}

func calendarsFromSources(managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant, logger *slog.Logger) []Calendar {
	registry := make(map[string]descriptor, len(managed))
	for _, ifaces := range managed {
		props, ok := ifaces[sourceIface]
		if !ok {
			continue
		}
		uid := strings.TrimSpace(stringProp(props, "UID"))
		data := stringProp(props, "Data")
		if uid == "" || strings.TrimSpace(data) == "" {
			continue
		}
		desc, err := parseDescriptor(uid, data)
		if err != nil {
			logger.Debug("skipping unreadable source", "uid", uid, "error", err)
			continue
		}
		registry[uid] = desc
	}

	var calendars []Calendar
	for _, desc := range registry {
		if desc.calendar == nil {
			continue
		}
		name := strings.TrimSpace(desc.data.DisplayName)
		if name == "" {
			name = desc.uid
		}
		calendars = append(calendars, Calendar{
			UID:         desc.uid,
			Name:        name,
			AccountName: accountName(registry, desc.data.Parent),
			ParentUID:   strings.TrimSpace(desc.data.Parent),
			Backend:     strings.TrimSpace(desc.calendar.BackendName),
			Color:       strings.TrimSpace(desc.calendar.Color),
			Selected:    flag(desc.calendar.Selected, false),
			Enabled:     flag(desc.data.Enabled, true) && flag(desc.calendar.Enabled, true),
		})
	}

	slices.SortStableFunc(calendars, func(a, b Calendar) int {
		return cmp.Or(
			strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)),
			strings.Compare(a.UID, b.UID),
		)
	})
	return calendars
}

// selectCalendars keeps enabled calendars matching ref by uid or
// case-insensitive name. An empty ref keeps every enabled calendar the user
// has selected for display.
func selectCalendars(calendars []Calendar, ref string) []Calendar {
	ref = strings.TrimSpace(ref)
	selected := make([]Calendar, 0, len(calendars))
	for _, calendar := range calendars {
		if !calendar.Enabled {
			continue
		}
		switch {
		case ref == "":
			if !calendar.Selected {
				continue
			}
		case calendar.UID != ref && !strings.EqualFold(calendar.Name, ref):
			continue
		}
		selected = append(selected, calendar)
	}
	return selected
}

func parseDescriptor(uid, data string) (descriptor, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		AllowShadows:        true,
	}, []byte(data))
	if err != nil {
		return descriptor{}, err
	}

	desc := descriptor{uid: uid}
	if err := file.Section("Data Source").MapTo(&desc.data); err != nil {
		return descriptor{}, fmt.Errorf("data source section: %w", err)
	}
	if section, err := file.GetSection("Calendar"); err == nil {
		desc.calendar = &calendarSection{}
		if err := section.MapTo(desc.calendar); err != nil {
			return descriptor{}, fmt.Errorf("calendar section: %w", err)
		}
	}
	return desc, nil
}

// accountName resolves the display name of a calendar's parent account.
// Placeholder "stub" parents created for local calendars yield "".
func accountName(registry map[string]descriptor, parentUID string) string {
	parentUID = strings.TrimSpace(parentUID)
	if parentUID == "" || strings.HasSuffix(parentUID, "-stub") {
		return ""
	}
	parent, ok := registry[parentUID]
	if !ok {
		return ""
	}
	name := strings.TrimSpace(parent.data.DisplayName)
	if strings.HasSuffix(strings.ToLower(name), "stub") {
		return ""
	}
	return name
}

func stringProp(props map[string]dbus.Variant, key string) string {
	value, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := value.Value().(string)
	return s
}

func flag(value string, fallback bool) bool {
	parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return fallback
	}
	return parsed
}
