package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type VertexConfig struct {
	Project     string
	Location    string
	Model       string
	Temperature float32
	MaxTokens   int
}

type VertexClient struct {
	client *genai.Client
	cfg    VertexConfig
}

// NewVertexClient creates a TextGenerator based on Vertex AI (Gemini).
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, fmt.Errorf("vertex project and location must be set")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-lite"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexClient{client: client, cfg: cfg}, nil
}

// Generate implements domain.TextGenerator using Vertex AI.
func (v *VertexClient) Generate(ctx context.Context, templateID string, vars map[string]string) (string, error) {
	prompt, err := BuildPrompt(templateID, vars)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt.User, genai.RoleUser)}

	temp := v.cfg.Temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   int32(v.cfg.MaxTokens),
	}
	if templateID == TemplateRoute {
		cfg.ResponseMIMEType = "application/json"
	}

	res, err := v.client.Models.GenerateContent(ctx, v.cfg.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("vertex generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("vertex returned empty text")
	}
	return text, nil
}
