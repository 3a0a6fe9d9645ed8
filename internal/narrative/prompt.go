package narrative

import "strings"

const systemPrompt = "You are a professional clinical documentation assistant specializing in behavioral health shift notes. Write clear, concise, and professional clinical documentation."

var guidelines = []string{
	"Do not include the date or time, only clinical observations",
	"Write in professional clinical language",
	"Be concise but comprehensive",
	"Focus on behavioral observations, engagement, and safety",
	"Include relevant medication compliance and medical concerns",
	"NEVER make clinical or medical recommendations; these are technician, non-clinical shift notes",
	"Note any risk factors or notable behaviors",
	"Use past tense",
	"Use the example notes below as style references only; do not copy them",
}

var styleExamples = []struct{ title, body string }{
	{
		"Client highly engaged",
		"Client remained stable throughout the shift and presented as calm and cooperative. They attended scheduled groups and meals and engaged appropriately with peers and staff. No incidents or safety concerns were observed or reported. Client complied with medication protocols as administered and maintained personal hygiene. Staff observed no signs of distress, intoxication, or withdrawal.",
	},
	{
		"Client struggled to engage in the milieu",
		"Client appeared withdrawn and irritable for most of the shift. They declined two of three scheduled groups despite encouragement from staff and were minimally engaged in the group they attended. Client isolated in their room and needed several prompts to complete hygiene tasks and attend meals. No safety concerns were observed, and the client denied suicidal or homicidal ideation when asked.",
	},
	{
		"Client slept through the night",
		"Client rested in their room for the duration of the overnight shift. Sleep appeared uninterrupted, with the client changing position periodically and showing no signs of distress. All safety checks were completed and no behavioral concerns were noted.",
	},
	{
		"Client struggled with sleep",
		"Client had difficulty sleeping during the overnight shift and was observed out of bed several times, reporting restlessness and anxiety. Staff offered supportive redirection and coping strategies. Client declined PRN medication when offered and rested for short intervals without sustained sleep. No safety concerns were reported and the client remained cooperative with staff.",
	},
}

// BuildPrompt wraps an evaluation summary in the shift-note instructions.
func BuildPrompt(summary string) string {
	var b strings.Builder
	b.WriteString("Based on the following patient evaluation data, write a polished, concise clinical shift note in ONE paragraph. Connect the observations rather than restating them.\n\n")
	b.WriteString("Guidelines:\n")
	for _, g := range guidelines {
		b.WriteString("- ")
		b.WriteString(g)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for _, ex := range styleExamples {
		b.WriteString(strings.ToUpper(ex.title))
		b.WriteString(" (example shift note):\n")
		b.WriteString(ex.body)
		b.WriteString("\n\n")
	}
	b.WriteString("Evaluation Data:\n")
	b.WriteString(summary)
	return b.String()
}
