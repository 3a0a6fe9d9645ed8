package narrative

import (
	"fmt"
	"sort"
	"strings"
)

type section struct {
	name   string
	prefix string
}

// Evaluation form groups, in the order they are summarised. Every key that
// starts with a prefix contributes its values to that group.
var sections = []section{
	{"ADLs", "adls"},
	{"Appetite", "appetite"},
	{"Behavior", "behavior"},
	{"Thinking", "thinking"},
	{"Eye Contact", "eye_contact"},
	{"Affect", "affect"},
	{"Mood", "mood"},
	{"Speech", "speech"},
	{"Orientation", "orientation"},
	{"Insight", "insight"},
	{"Risk Behaviors", "risk_behaviors"},
	{"Withdrawal Symptoms", "withdrawal"},
	{"PAW Symptoms", "paw_symptoms"},
}

const (
	noData     = "No evaluation data."
	noSpecific = "No specific evaluation data recorded."
)

// FormatSummary renders a saved evaluation as the bullet list handed to the
// model.
func FormatSummary(data map[string]any) string {
	if len(data) == 0 {
		return noData
	}

	var lines []string
	if truthy(data["med_compliant"]) {
		lines = append(lines, "• Medication compliant")
	}
	// The form's medical_concerns box is the "none reported" checkbox.
	if truthy(data["medical_concerns"]) {
		lines = append(lines, "• No medical concerns reported")
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, s := range sections {
		var values []string
		for _, k := range keys {
			if strings.HasPrefix(k, s.prefix) {
				values = append(values, flatten(data[k])...)
			}
		}
		if len(values) > 0 {
			lines = append(lines, fmt.Sprintf("• %s: %s", s.name, strings.Join(values, ", ")))
		}
	}

	if v := data["craving_level"]; truthy(v) {
		lines = append(lines, fmt.Sprintf("• Craving level: %s/10", display(v)))
	}
	if v, ok := data["milieu_engagement"]; ok && v != nil {
		if note := strings.TrimSpace(display(v)); note != "" {
			lines = append(lines, "• Milieu engagement notes: "+note)
		}
	}

	if len(lines) == 0 {
		return noSpecific
	}
	return strings.Join(lines, "\n")
}

func flatten(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, display(item))
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		if truthy(v) {
			return []string{display(v)}
		}
		return nil
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

func display(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
