package eds

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	sourceServicePrefix   = "org.gnome.evolution.dataserver.Sources"
	calendarServicePrefix = "org.gnome.evolution.dataserver.Calendar"
)

// Client talks to evolution-data-server over the session bus.
type Client struct {
	conn            *dbus.Conn
	sourceService   string
	calendarService string
	logger          *slog.Logger
}

// Dial connects to the session bus and resolves the newest source registry
// and calendar factory services, running or activatable.
func Dial(ctx context.Context, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	names := busNames(ctx, conn)
	client := &Client{
		conn:            conn,
		sourceService:   newestService(names, sourceServicePrefix),
		calendarService: newestService(names, calendarServicePrefix),
		logger:          logger,
	}
	for prefix, resolved := range map[string]string{sourceServicePrefix: client.sourceService, calendarServicePrefix: client.calendarService} {
		if resolved == "" {
			_ = conn.Close()
			return nil, fmt.Errorf("dbus service with prefix %q not found", prefix)
		}
	}

	logger.Debug("eds services resolved", "sources", client.sourceService, "calendars", client.calendarService)
	return client, nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// busNames lists running names first, then activatable ones. Lookup
// failures leave the list short rather than failing the dial.
func busNames(ctx context.Context, conn *dbus.Conn) []string {
	bus := conn.BusObject()
	var all []string
	for _, method := range []string{"org.freedesktop.DBus.ListNames", "org.freedesktop.DBus.ListActivatableNames"} {
		var names []string
		if err := bus.CallWithContext(ctx, method, 0).Store(&names); err == nil {
			all = append(all, names...)
		}
	}
	return all
}

// newestService picks the name with the highest numeric suffix after prefix.
// Equal versions resolve to the lexically smallest name.
func newestService(names []string, prefix string) string {
	var candidates []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	slices.SortFunc(candidates, func(a, b string) int {
		if va, vb := serviceVersion(a, prefix), serviceVersion(b, prefix); va != vb {
			return vb - va
		}
		return strings.Compare(a, b)
	})
	return candidates[0]
}

func serviceVersion(name, prefix string) int {
	suffix, _ := strings.CutPrefix(name, prefix)
	version, err := strconv.Atoi(strings.TrimSpace(suffix))
	if err != nil {
		return 0
	}
	return version
}
