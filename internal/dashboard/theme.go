// Package dashboard renders the single themed HTML view of a city's latest
// reading, alerts and temperature forecast.
package dashboard

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
)

// Theme parameterises the dashboard view.
type Theme struct {
	Name         string           `yaml:"name"`
	Title        string           `yaml:"title"`
	Background   string           `yaml:"background"`
	Primary      string           `yaml:"primary"`
	Secondary    string           `yaml:"secondary"`
	Content      string           `yaml:"content"`
	Metrics      []climate.Metric `yaml:"metrics"`
	ShowForecast bool             `yaml:"show_forecast"`
}

// Themes is the themes file: a default name plus the theme list.
type Themes struct {
	Default string  `yaml:"default"`
	Themes  []Theme `yaml:"themes"`
}

// DefaultThemes returns the built-in weather themes.
func DefaultThemes() *Themes {
	all := climate.Metrics
	return &Themes{
		Default: "clear",
		Themes: []Theme{
			{Name: "clear", Title: "Climate Risk Dashboard", Background: "#0a0a0a 0%, #1a1a2e 50%, #16213e 100%",
				Primary: "#00ffff", Secondary: "#ffaa00", Content: "rgba(26, 26, 46, 0.85)", Metrics: all, ShowForecast: true},
			{Name: "rain", Title: "Climate Risk Dashboard", Background: "#0a0a0a 0%, #1a2e3a 50%, #16213e 100%",
				Primary: "#0099ff", Secondary: "#66ccff", Content: "rgba(26, 46, 58, 0.85)", Metrics: all, ShowForecast: true},
			{Name: "snow", Title: "Climate Risk Dashboard", Background: "#0a0a0a 0%, #2e3a4a 50%, #4a5568 100%",
				Primary: "#ffffff", Secondary: "#ccccff", Content: "rgba(46, 58, 74, 0.85)", Metrics: all, ShowForecast: true},
			{Name: "minimal", Title: "Climate Monitor", Background: "#ffffff 0%, #f0f0f0 100%",
				Primary: "#222222", Secondary: "#856404", Content: "#ffffff",
				Metrics: []climate.Metric{climate.MetricTemperature, climate.MetricAQI}},
		},
	}
}

// LoadThemes reads a themes file. A missing file yields DefaultThemes.
func LoadThemes(path string) (*Themes, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultThemes(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read themes %s: %w", path, err)
	}

	var t Themes
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse themes %s: %w", path, err)
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("themes %s: %w", path, err)
	}
	return &t, nil
}

func (t *Themes) validate() error {
	if len(t.Themes) == 0 {
		return errors.New("no themes defined")
	}
	seen := make(map[string]bool)
	for i, th := range t.Themes {
		if th.Name == "" {
			return fmt.Errorf("theme %d has no name", i)
		}
		if seen[th.Name] {
			return fmt.Errorf("duplicate theme %q", th.Name)
		}
		seen[th.Name] = true
	}
	if t.Default == "" {
		t.Default = t.Themes[0].Name
	}
	if !seen[t.Default] {
		return fmt.Errorf("default theme %q not defined", t.Default)
	}
	return nil
}

func (t *Themes) lookup(name string) (Theme, bool) {
	for _, th := range t.Themes {
		if th.Name == name {
			return th, true
		}
	}
	return Theme{}, false
}

// Registry holds the active Themes and is swapped on reload.
type Registry struct {
	mu     sync.RWMutex
	themes *Themes
}

func NewRegistry(t *Themes) *Registry {
	if t == nil {
		t = DefaultThemes()
	}
	return &Registry{themes: t}
}

// Set replaces the active themes.
func (r *Registry) Set(t *Themes) {
	r.mu.Lock()
	r.themes = t
	r.mu.Unlock()
}

// Names lists the available theme names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.themes.Themes))
	for _, th := range r.themes.Themes {
		names = append(names, th.Name)
	}
	return names
}

// Select returns the named theme. An empty or "auto" name picks a theme
// from the latest reading's conditions; unknown names fall back to the
// default theme.
func (r *Registry) Select(name string, latest *climate.Reading) Theme {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" || name == "auto" {
		name = autoTheme(latest)
	}
	if th, ok := r.themes.lookup(name); ok {
		return th
	}
	th, _ := r.themes.lookup(r.themes.Default)
	return th
}

func autoTheme(r *climate.Reading) string {
	switch {
	case r == nil:
		return ""
	case r.Rainfall > 2.5:
		return "rain"
	case r.Temperature < 0:
		return "snow"
	default:
		return "clear"
	}
}
