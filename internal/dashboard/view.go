package dashboard

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/i474232898/climate-risk-alerts/internal/alert"
	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
)

// View is everything the dashboard page shows for one city.
type View struct {
	City        string
	Cities      []string
	ThemeParam  string
	Theme       Theme
	Latest      *climate.Reading
	Alerts      []alert.Event
	Forecast    []forecast.Point
	GeneratedAt time.Time
}

type card struct {
	Metric climate.Metric
	Label  string
	Value  string
}

// Chart is the SVG geometry of the forecast: the estimate line and the
// interval band, in a Width x Height box.
type Chart struct {
	Width, Height float64
	Line          string
	Band          string
	Min, Max      float64
}

type page struct {
	View
	Cards []card
	Chart *Chart
}

const (
	chartWidth  = 600
	chartHeight = 200
)

var (
	labelCaser = cases.Title(language.English)
	cssSafe    = regexp.MustCompile(`^[#a-zA-Z0-9%.,() ]*$`)
)

var pageTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"css":   safeCSS,
	"value": func(v float64) string { return formatNumber(v) },
	"time":  func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 UTC") },
}).Parse(pageHTML))

// Render writes the dashboard page for v.
func Render(w io.Writer, v View) error {
	p := page{View: v}

	metrics := v.Theme.Metrics
	if len(metrics) == 0 {
		metrics = climate.Metrics
	}
	for _, m := range metrics {
		c := card{Metric: m, Label: labelCaser.String(string(m)), Value: "n/a"}
		if m == climate.MetricAQI {
			c.Label = "AQI"
		}
		if v.Latest != nil {
			if val := v.Latest.Value(m); !climate.IsMissing(val) {
				c.Value = formatNumber(val) + m.Unit()
			}
		}
		p.Cards = append(p.Cards, c)
	}

	if v.Theme.ShowForecast && len(v.Forecast) > 1 {
		p.Chart = BuildChart(v.Forecast, chartWidth, chartHeight)
	}

	if err := pageTmpl.Execute(w, p); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	return nil
}

// BuildChart scales points into a width x height box with y growing down.
// It returns nil for fewer than two points.
func BuildChart(points []forecast.Point, width, height float64) *Chart {
	if len(points) < 2 {
		return nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Lower)
		hi = math.Max(hi, p.Upper)
	}
	if hi-lo < 1e-9 {
		lo, hi = lo-1, hi+1
	}

	x := func(i int) float64 { return float64(i) * width / float64(len(points)-1) }
	y := func(v float64) float64 { return height - (v-lo)/(hi-lo)*height }

	line := make([]string, len(points))
	band := make([]string, 0, 2*len(points))
	for i, p := range points {
		line[i] = coord(x(i), y(p.Estimate))
		band = append(band, coord(x(i), y(p.Upper)))
	}
	for i := len(points) - 1; i >= 0; i-- {
		band = append(band, coord(x(i), y(points[i].Lower)))
	}

	return &Chart{
		Width: width, Height: height,
		Line: strings.Join(line, " "),
		Band: strings.Join(band, " "),
		Min:  lo, Max: hi,
	}
}

func coord(x, y float64) string {
	return strconv.FormatFloat(x, 'f', 1, 64) + "," + strconv.FormatFloat(y, 'f', 1, 64)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}

func safeCSS(s string) template.CSS {
	if !cssSafe.MatchString(s) {
		return template.CSS("inherit")
	}
	return template.CSS(s)
}

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="300">
<title>{{.Theme.Title}} - {{.City}}</title>
<style>
body { margin: 0; padding: 1.5rem; font-family: sans-serif; background: linear-gradient(135deg, {{css .Theme.Background}}); color: {{css .Theme.Primary}}; }
nav a { margin-right: 0.75rem; color: {{css .Theme.Secondary}}; }
nav a.active { font-weight: bold; }
.cards { display: flex; flex-wrap: wrap; gap: 1rem; }
.metric-card { flex: 1 1 10rem; padding: 1rem; border-radius: 8px; background: {{css .Theme.Content}}; border: 1px solid {{css .Theme.Secondary}}; }
.metric-card .value { font-size: 2rem; margin: 0.25rem 0; }
.alert-banner { margin: 1rem 0; padding: 1rem; border-left: 4px solid {{css .Theme.Secondary}}; background: {{css .Theme.Content}}; }
.status-ok { margin: 1rem 0; padding: 1rem; background: {{css .Theme.Content}}; }
.forecast .band { fill: {{css .Theme.Secondary}}; fill-opacity: 0.2; stroke: none; }
.forecast .estimate { fill: none; stroke: {{css .Theme.Primary}}; stroke-width: 2; }
</style>
</head>
<body class="theme-{{.Theme.Name}}">
<header>
<h1>{{.Theme.Title}}</h1>
<nav>{{range .Cities}}<a class="city{{if eq . $.City}} active{{end}}" href="?city={{.}}&theme={{$.ThemeParam}}">{{.}}</a>{{end}}</nav>
</header>
<main>
<h2 class="city-name">{{.City}}</h2>
{{if .Alerts}}<section class="alert-banner" role="alert">
<h3>{{len .Alerts}} active alert(s)</h3>
<ul>{{range .Alerts}}
<li class="alert severity-{{.Severity}}" data-metric="{{.Metric}}">{{.Severity}}: {{.Metric}} {{.Direction}} at {{value .Value}} (threshold {{value .Threshold}}), {{time .Timestamp}}</li>{{end}}
</ul>
</section>{{else}}<section class="status-ok">All metrics within thresholds</section>{{end}}
<section class="cards">{{range .Cards}}
<div class="metric-card" data-metric="{{.Metric}}"><h3>{{.Label}}</h3><p class="value">{{.Value}}</p></div>{{end}}
</section>
{{with .Chart}}<section class="forecast">
<h3>Temperature forecast</h3>
<svg width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}" role="img" aria-label="temperature forecast from {{value .Min}} to {{value .Max}}">
<polygon class="band" points="{{.Band}}"></polygon>
<polyline class="estimate" points="{{.Line}}"></polyline>
</svg>
</section>{{end}}
</main>
<footer>{{if .Latest}}Last reading {{time .Latest.Timestamp}}. {{end}}Generated {{time .GeneratedAt}}</footer>
</body>
</html>
`
