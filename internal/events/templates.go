package events

import (
	"fmt"
	"strings"
)

// MessageTemplateEngine renders event messages.
type MessageTemplateEngine struct {
	templates map[EventReason]string
}

// NewMessageTemplateEngine creates an engine with the default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	engine := &MessageTemplateEngine{
		templates: make(map[EventReason]string),
	}
	engine.loadDefaultTemplates()
	return engine
}

func (e *MessageTemplateEngine) loadDefaultTemplates() {
	e.templates[ReasonSettingChanged] = "{{.Key}} set to {{.Value}}{{if .Origin}} by {{.Origin}}{{end}}"
	e.templates[ReasonSettingFailed] = "{{.Key}} could not be set to {{.Value}}{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonSettingRetrying] = "{{.Key}} attempt {{.Attempt}} failed, retrying{{if .Delay}} in {{.Delay}}{{end}}{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonSettingSuperseded] = "{{.Key}} retry replaced by a change from {{.Origin}}"

	e.templates[ReasonSourceDegraded] = "Source {{.Source}} degraded after {{.Failures}} failures{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonSourceRecovered] = "Source {{.Source}} recovered"
}

// Render generates the message for reason.
func (e *MessageTemplateEngine) Render(reason EventReason, data EventData) string {
	template, exists := e.templates[reason]
	if !exists {
		return fmt.Sprintf("Event: %s for %s%s", string(reason), data.Key, data.Source)
	}

	return e.renderTemplate(template, data)
}

// SetTemplate replaces the template of reason.
func (e *MessageTemplateEngine) SetTemplate(reason EventReason, template string) {
	e.templates[reason] = template
}

// GetTemplate returns the template of reason.
func (e *MessageTemplateEngine) GetTemplate(reason EventReason) (string, bool) {
	template, exists := e.templates[reason]
	return template, exists
}

// renderTemplate substitutes EventData fields. Only plain field
// references and single-level {{if .Field}}...{{end}} blocks are
// supported.
func (e *MessageTemplateEngine) renderTemplate(template string, data EventData) string {
	result := e.renderConditionals(template, data)

	result = strings.ReplaceAll(result, "{{.Key}}", data.Key)
	result = strings.ReplaceAll(result, "{{.Value}}", data.Value)
	result = strings.ReplaceAll(result, "{{.Origin}}", data.Origin)
	result = strings.ReplaceAll(result, "{{.Source}}", data.Source)
	result = strings.ReplaceAll(result, "{{.Error}}", data.Error)
	result = strings.ReplaceAll(result, "{{.Attempt}}", fmt.Sprintf("%d", data.Attempt))
	result = strings.ReplaceAll(result, "{{.Failures}}", fmt.Sprintf("%d", data.Failures))
	result = strings.ReplaceAll(result, "{{.Delay}}", data.Delay.String())

	return result
}

func (e *MessageTemplateEngine) renderConditionals(template string, data EventData) string {
	conditions := []struct {
		field string
		set   bool
	}{
		{"Error", data.Error != ""},
		{"Origin", data.Origin != ""},
		{"Delay", data.Delay > 0},
	}

	result := template
	for _, c := range conditions {
		marker := "{{if ." + c.field + "}}"
		for strings.Contains(result, marker) {
			next := e.renderConditional(result, marker, "{{end}}", c.set)
			if next == result {
				break
			}
			result = next
		}
	}
	return result
}

// renderConditional handles a single conditional block.
func (e *MessageTemplateEngine) renderConditional(template, startMarker, endMarker string, condition bool) string {
	startIndex := strings.Index(template, startMarker)
	if startIndex == -1 {
		return template
	}

	endIndex := strings.Index(template[startIndex:], endMarker)
	if endIndex == -1 {
		return template
	}
	endIndex += startIndex

	before := template[:startIndex]
	after := template[endIndex+len(endMarker):]
	if condition {
		content := template[startIndex+len(startMarker) : endIndex]
		return before + content + after
	}
	return before + after
}
