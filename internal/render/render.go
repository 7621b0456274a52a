// Package render turns an event into the subject and body of a notification
// email.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"strconv"
	"time"

	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/notify"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatText Format = "text"
)

// TimeLayout is used for the issued timestamp in the body.
const TimeLayout = "2006-01-02 15:04:05 -0700"

const defaultTemplate = `<html>
  <body>
    <h1>{{.Header}}</h1>
    <table>
      <tr>
        <td>Time</td>
        <td>{{.Time}}</td>
      </tr>
      <tr>
        <td>Occurrences</td>
        <td>{{.Occurrences}}</td>
      </tr>
      <tr>
        <td>Flapping</td>
        <td>{{.Flapping}}</td>
      </tr>
      <tr>
        <td>{{.PeriodLabel}}</td>
        <td>{{.Period}}</td>
      </tr>
    </table>
  </body>
</html>
`

// DefaultTemplate is the compiled-in HTML body.
var DefaultTemplate = template.Must(template.New("email").Parse(defaultTemplate))

// ParseTemplateFile loads a custom body template. Fields available are those
// of Fields.
func ParseTemplateFile(path string) (*template.Template, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	t, err := template.New("email").Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	return t, nil
}

// Fields are the placeholders substituted into the HTML template.
type Fields struct {
	Header      string
	Time        string
	Occurrences int
	Flapping    bool
	PeriodLabel string
	// Period is expressed in whole seconds.
	Period string
}

type Renderer struct {
	Template    *template.Template
	Format      Format
	Location    *time.Location
	PeriodLabel string
}

func New(tmpl *template.Template, format Format) *Renderer {
	return &Renderer{Template: tmpl, Format: format}
}

func ActionLabel(ev domain.Event) string {
	if ev.Action.IsResolve() {
		return "RESOLVED"
	}
	return "ALERT"
}

// Subject is "<ALERT|RESOLVED> - <client>/<check>[: <notification>]".
func (r *Renderer) Subject(ev domain.Event) string {
	s := ActionLabel(ev) + " - " + string(ev.Identity())
	if ev.Check.Notification != "" {
		s += ": " + ev.Check.Notification
	}
	return s
}

func (r *Renderer) fields(ev domain.Event, period time.Duration) Fields {
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	label := r.PeriodLabel
	if label == "" {
		label = "Sleep Period"
	}
	return Fields{
		Header:      ev.Check.Output,
		Time:        ev.IssuedAt().In(loc).Format(TimeLayout),
		Occurrences: ev.Occurrences,
		Flapping:    ev.Check.Flapping,
		PeriodLabel: label,
		Period:      strconv.FormatInt(int64(period/time.Second), 10),
	}
}

func (r *Renderer) Body(ev domain.Event, period time.Duration) (string, error) {
	if r.Format == FormatText {
		return ev.Check.Output, nil
	}
	t := r.Template
	if t == nil {
		t = DefaultTemplate
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, r.fields(ev, period)); err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) Render(ev domain.Event, period time.Duration) (notify.Message, error) {
	body, err := r.Body(ev, period)
	if err != nil {
		return notify.Message{}, err
	}
	return notify.Message{
		Subject: r.Subject(ev),
		Body:    body,
		HTML:    r.Format != FormatText,
	}, nil
}
