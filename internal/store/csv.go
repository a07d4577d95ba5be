package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
)

// ReadingColumns is the fixed header of every readings table.
var ReadingColumns = []string{"timestamp", "city", "temperature", "humidity", "rainfall", "aqi"}

// WriteReadings writes readings to path as CSV, replacing any existing file.
// Missing measurements are written as empty cells. The file is written to a
// temporary sibling and renamed into place.
func WriteReadings(path string, readings []climate.Reading) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(ReadingColumns); err != nil {
		tmp.Close()
		return err
	}
	for _, r := range readings {
		if err := w.Write(readingRow(r)); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadReadings parses a readings CSV. Columns are matched by header name, so
// extra columns are ignored. Unparseable timestamps yield a zero Timestamp and
// unparseable numbers yield missing values.
func ReadReadings(path string) ([]climate.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty file", path)
		}
		return nil, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range []string{"timestamp", "city"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, col)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var out []climate.Reading
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, climate.Reading{
			Timestamp:   parseTimestamp(field(rec, "timestamp")),
			City:        field(rec, "city"),
			Temperature: parseFloat(field(rec, "temperature")),
			Humidity:    parseFloat(field(rec, "humidity")),
			Rainfall:    parseFloat(field(rec, "rainfall")),
			AQI:         parseFloat(field(rec, "aqi")),
		})
	}
	return out, nil
}

// ReadReadingsIfExists is ReadReadings that treats a missing file as empty.
func ReadReadingsIfExists(path string) ([]climate.Reading, error) {
	out, err := ReadReadings(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return out, err
}

func readingRow(r climate.Reading) []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.City,
		formatFloat(r.Temperature),
		formatFloat(r.Humidity),
		formatFloat(r.Rainfall),
		formatFloat(r.AQI),
	}
}

func formatFloat(v float64) string {
	if climate.IsMissing(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return climate.Missing()
	}
	return v
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
