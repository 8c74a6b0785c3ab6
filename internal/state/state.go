package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rbright/calendarize/internal/eds"
	"github.com/rbright/calendarize/internal/recurrence"
)

// WriteDocument atomically replaces path with an exported calendar document.
func WriteDocument(path string, document []byte) error {
	if len(document) == 0 {
		return fmt.Errorf("refusing to write empty document to %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return writeFileAtomically(path, document)
}

func SaveOccurrences(path string, occurrences []recurrence.Occurrence) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create occurrences dir: %w", err)
	}
	if occurrences == nil {
		occurrences = []recurrence.Occurrence{}
	}

	payload, err := json.MarshalIndent(occurrences, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal occurrences: %w", err)
	}
	return writeFileAtomically(path, append(payload, '\n'))
}

// LoadOccurrences returns nil without error when path does not exist yet.
func LoadOccurrences(path string) ([]recurrence.Occurrence, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read occurrences file: %w", err)
	}

	var occurrences []recurrence.Occurrence
	if err := json.Unmarshal(raw, &occurrences); err != nil {
		return nil, fmt.Errorf("decode occurrences file: %w", err)
	}
	return occurrences, nil
}

func SaveCalendars(path string, calendars []eds.Calendar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create calendars dir: %w", err)
	}

	payload, err := json.MarshalIndent(calendars, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calendars: %w", err)
	}
	return writeFileAtomically(path, append(payload, '\n'))
}

func writeFileAtomically(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
