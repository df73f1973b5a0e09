package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Hazard Alert {{.EventLabel}}]
Location: {{.Location}}
Type: {{.TypeLabel}}
Severity: {{.Severity}}
Message: {{.Message}}
Raised: {{.RaisedAt}}
Occurrences: {{.Occurrences}}
{{ if .Recommendation }}Suggested: {{.Recommendation}}
{{ end }}{{ if .RelatedRun }}Run: {{.RelatedRun}}
{{ end }}{{ if .RelatedEvent }}Rainfall Event: {{.RelatedEvent}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Location       string
	TypeLabel      string
	TypeCode       string
	Severity       string
	Message        string
	Recommendation string
	RaisedAt       string
	Occurrences    int
	RelatedRun     string
	RelatedEvent   string
	Event          string
	EventLabel     string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
