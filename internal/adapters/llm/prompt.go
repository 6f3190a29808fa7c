package llm

import (
	"fmt"
	"strings"
	"text/template"
)

const (
	TemplateRoute           = "route"
	TemplateFallback        = "fallback"
	TemplateKnowledgeAnswer = "knowledge_answer"
	TemplateFormatResult    = "format_result"
)

const baseSystemPrompt = `
You are an assistant for an insurance company. You help customers understand
their policies and coverage, check the status of their claims and submit new claims.

General style guidelines:
- Answer in the SAME LANGUAGE as the user.
- Be concise and friendly: a few short sentences or bullet points.
- Never invent policy terms, claim numbers, amounts or statuses.
- Never ask for passwords, card numbers or other secrets.
`

type promptTemplate struct {
	instructions string
	user         *template.Template
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=zero").Parse(text))
}

var templates = map[string]promptTemplate{
	TemplateRoute: {
		instructions: `
Task: classify the customer's message.

Answer ONLY with a JSON object of the form {"route": "...", "reasoning": "..."} where route is one of:
- "claims": checking a claim's status, submitting a claim, premium calculation requests
- "knowledge": questions about policies, coverage, plans, benefits, deductibles
- "fallback": greetings, small talk and anything else
When unsure, answer "fallback".
`,
		user: mustTemplate(TemplateRoute, `Previous step: {{.previous_step}}
Previous route: {{.last_route}}

Customer message:
{{.message}}`),
	},
	TemplateFallback: {
		instructions: `
Task: reply to a general message. Explain briefly what you can help with
(policy questions, claim status checks, new claims) when the message is off-topic.
`,
		user: mustTemplate(TemplateFallback, `{{if .history}}Conversation so far:
{{.history}}

{{end}}New customer message:
{{.message}}`),
	},
	TemplateKnowledgeAnswer: {
		instructions: `
Task: answer the customer's question using ONLY the policy excerpts provided.
If the excerpts do not answer it, say so and suggest contacting an agent.
`,
		user: mustTemplate(TemplateKnowledgeAnswer, `Question:
{{.question}}

Policy excerpts:
{{.passages}}`),
	},
	TemplateFormatResult: {
		instructions: `
Task: turn the raw JSON result of a claims system operation into a short,
friendly message for the customer. Mention the claim number and status when present.
Do not show JSON.
`,
		user: mustTemplate(TemplateFormatResult, `Operation: {{.operation}}
Customer request: {{.request}}

Raw result:
{{.result}}`),
	},
}

// Prompt represents the system prompt + the content to send as "user".
type Prompt struct {
	System string
	User   string
}

// BuildPrompt renders the template with vars.
func BuildPrompt(templateID string, vars map[string]string) (Prompt, error) {
	tpl, ok := templates[templateID]
	if !ok {
		return Prompt{}, fmt.Errorf("unknown prompt template %q", templateID)
	}

	var user strings.Builder
	if err := tpl.user.Execute(&user, vars); err != nil {
		return Prompt{}, fmt.Errorf("rendering %s prompt: %w", templateID, err)
	}

	return Prompt{
		System: strings.TrimSpace(baseSystemPrompt) + "\n" + tpl.instructions,
		User:   user.String(),
	}, nil
}
