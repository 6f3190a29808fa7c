package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockLLM is a deterministic generator for local runs and tests. Its route
// answer always defers to the fallback path.
type MockLLM struct{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) Generate(_ context.Context, templateID string, vars map[string]string) (string, error) {
	// rendering keeps the mock honest about template ids and variables
	if _, err := BuildPrompt(templateID, vars); err != nil {
		return "", err
	}

	switch templateID {
	case TemplateRoute:
		return `{"route":"fallback","reasoning":"mock classifier"}`, nil
	case TemplateFallback:
		return fmt.Sprintf("I'm your insurance assistant. You said %q. I can answer policy questions, check a claim's status or help you submit a new claim.", vars["message"]), nil
	case TemplateKnowledgeAnswer:
		return "Based on our policy documents:\n" + strings.TrimSpace(vars["passages"]), nil
	case TemplateFormatResult:
		return fmt.Sprintf("Done. Result of %s: %s", vars["operation"], strings.TrimSpace(vars["result"])), nil
	}
	return "", fmt.Errorf("mock llm: unhandled template %q", templateID)
}
