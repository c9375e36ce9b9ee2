package notifications

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/resilience"
)

// TemplateManager renders alert subjects and bodies
type TemplateManager struct {
	templates map[string]*template.Template
}

// NewTemplateManager creates a template manager with the default templates
func NewTemplateManager() *TemplateManager {
	tm := &TemplateManager{templates: make(map[string]*template.Template)}
	tm.loadDefaultTemplates()
	return tm
}

// RenderErrorAlert renders an alert for a handled error
func (tm *TemplateManager) RenderErrorAlert(record recovery.ErrorRecord) (Message, error) {
	service := record.Context.Service()
	outcome := "failed"
	if record.RecoveryResult.Success {
		outcome = "succeeded"
	}

	data := map[string]interface{}{
		"Service":     service,
		"Name":        record.Error.Name,
		"Message":     record.Error.Message,
		"Category":    record.Classification.Category,
		"Severity":    record.Classification.Severity,
		"Description": record.Classification.Description,
		"Strategy":    record.Strategy.Name,
		"Outcome":     outcome,
		"Attempts":    record.RecoveryResult.Attempts,
		"Error":       record.RecoveryResult.Error,
		"Timestamp":   record.Timestamp.UTC().Format(time.RFC3339),
	}

	subject, body, err := tm.render("error_alert", data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject:  subject,
		Body:     body,
		Event:    EventCriticalError,
		Severity: record.Classification.Severity,
		Metadata: map[string]interface{}{
			"record_id": record.ID,
			"service":   service,
			"category":  string(record.Classification.Category),
			"strategy":  record.Strategy.Name,
			"recovered": record.RecoveryResult.Success,
		},
	}, nil
}

// RenderBreakerOpened renders an alert for a breaker that started rejecting
func (tm *TemplateManager) RenderBreakerOpened(service string, from resilience.CircuitState, failureCount int) (Message, error) {
	data := map[string]interface{}{
		"Service":      service,
		"From":         from.String(),
		"FailureCount": failureCount,
	}

	subject, body, err := tm.render("breaker_opened", data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject:  subject,
		Body:     body,
		Event:    EventBreakerOpened,
		Severity: recovery.SeverityHigh,
		Metadata: map[string]interface{}{
			"service":       service,
			"failure_count": failureCount,
		},
	}, nil
}

// RenderBreakerClosed renders a notice for a breaker whose probe succeeded
func (tm *TemplateManager) RenderBreakerClosed(service string) (Message, error) {
	subject, body, err := tm.render("breaker_closed", map[string]interface{}{"Service": service})
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject:  subject,
		Body:     body,
		Event:    EventBreakerClosed,
		Severity: recovery.SeverityLow,
		Metadata: map[string]interface{}{"service": service},
	}, nil
}

func (tm *TemplateManager) render(name string, data map[string]interface{}) (string, string, error) {
	subjectTemplate, ok := tm.templates[name+"_subject"]
	if !ok {
		return "", "", fmt.Errorf("subject template not found: %s", name)
	}
	bodyTemplate, ok := tm.templates[name+"_body"]
	if !ok {
		return "", "", fmt.Errorf("body template not found: %s", name)
	}

	var subject, body bytes.Buffer
	if err := subjectTemplate.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("failed to render subject: %w", err)
	}
	if err := bodyTemplate.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to render body: %w", err)
	}
	return subject.String(), body.String(), nil
}

func (tm *TemplateManager) loadDefaultTemplates() {
	tm.templates["error_alert_subject"] = template.Must(template.New("error_alert_subject").Parse(
		"🚨 {{.Severity}} {{.Category}} error in {{.Service}}",
	))
	tm.templates["error_alert_body"] = template.Must(template.New("error_alert_body").Parse(
		`{{.Name}}: {{.Message}}
{{if .Description}}
{{.Description}}
{{end}}
Strategy: {{.Strategy}} ({{.Outcome}} after {{.Attempts}} attempts)
{{- if .Error}}
Last error: {{.Error}}
{{- end}}

Occurred at {{.Timestamp}}`,
	))

	tm.templates["breaker_opened_subject"] = template.Must(template.New("breaker_opened_subject").Parse(
		"⚠️ Circuit breaker opened for {{.Service}}",
	))
	tm.templates["breaker_opened_body"] = template.Must(template.New("breaker_opened_body").Parse(
		`Calls to {{.Service}} are being rejected after {{.FailureCount}} consecutive failures (was {{.From}}).`,
	))

	tm.templates["breaker_closed_subject"] = template.Must(template.New("breaker_closed_subject").Parse(
		"✅ Circuit breaker closed for {{.Service}}",
	))
	tm.templates["breaker_closed_body"] = template.Must(template.New("breaker_closed_body").Parse(
		`A probe call to {{.Service}} succeeded and traffic is flowing again.`,
	))
}
