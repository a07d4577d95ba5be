package alert

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// LogColumns is the header of a flushed alert log.
var LogColumns = []string{"metric", "value", "threshold", "type", "severity", "timestamp"}

// Log is the ordered, append-only record of raised alerts for this process.
// Log is safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	events []Event
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Record appends ev.
func (l *Log) Record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Events returns a copy of the recorded events in insertion order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// rename is swapped in tests.
var rename = os.Rename

// Flush writes every recorded event to path as CSV, replacing the file, and
// returns the number of rows written. An empty log writes nothing and leaves
// any existing file untouched. The rows go to a temporary sibling that is
// renamed over path, so a failed flush keeps the previous file.
func (l *Log) Flush(path string) (int, error) {
	events := l.Events()
	if len(events) == 0 {
		return 0, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create alert log directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create alert log: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeEvents(tmp, events); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write alert log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("write alert log: %w", err)
	}
	if err := rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("replace alert log: %w", err)
	}
	return len(events), nil
}

func writeEvents(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LogColumns); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{
			string(ev.Metric),
			strconv.FormatFloat(ev.Value, 'f', -1, 64),
			strconv.FormatFloat(ev.Threshold, 'f', -1, 64),
			string(ev.Direction),
			string(ev.Severity),
			ev.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
