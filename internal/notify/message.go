package notify

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/i474232898/climate-risk-alerts/internal/alert"
)

// Message is the rendered form of an alert event.
type Message struct {
	Subject string
	Body    string // long form, for email
	Short   string // single line, for SMS and chat
}

var titleCaser = cases.Title(language.English)

// Render derives a Message from ev. Output depends only on ev's fields.
func Render(ev alert.Event) Message {
	metric := titleCaser.String(string(ev.Metric))
	value := formatValue(ev.Value) + ev.Metric.Unit()
	threshold := formatValue(ev.Threshold) + ev.Metric.Unit()

	where := ""
	if ev.City != "" {
		where = " in " + ev.City
	}

	var b strings.Builder
	b.WriteString("Climate Risk Alert\n\n")
	if ev.City != "" {
		fmt.Fprintf(&b, "City: %s\n", ev.City)
	}
	fmt.Fprintf(&b, "Metric: %s\n", metric)
	fmt.Fprintf(&b, "Current Value: %s\n", value)
	fmt.Fprintf(&b, "Threshold: %s (%s)\n", threshold, ev.Direction)
	fmt.Fprintf(&b, "Severity: %s\n", ev.Severity)
	fmt.Fprintf(&b, "Time: %s\n\n", ev.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	b.WriteString("Please take appropriate action.\n\nAutomated Climate Risk Prediction System\n")

	return Message{
		Subject: fmt.Sprintf("Climate Risk Alert - %s%s", ev.Severity, where),
		Body:    b.String(),
		Short: fmt.Sprintf("Climate Alert%s: %s is %s (threshold: %s, %s). Severity: %s",
			where, metric, value, threshold, ev.Direction, ev.Severity),
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
