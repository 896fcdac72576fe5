package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const defaultGeminiModelName = "gemini-2.5-flash"

// ErrGeneratorUnavailable is returned by a generator that has no credentials.
var ErrGeneratorUnavailable = errors.New("generative model is not configured")

// ResponseShape selects the structure a generator is asked to return.
type ResponseShape int

const (
	ShapeText ResponseShape = iota
	ShapeMatches
	ShapeIcebreakers
)

// Prompt is one request to a generative model.
type Prompt struct {
	System string
	Text   string
	Shape  ResponseShape
}

// Generator sends a single prompt and returns the raw response text.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	Close() error
}

type LLMService struct {
	client    *genai.Client
	modelName string
	logger    *zap.Logger
}

func NewLLMService(ctx context.Context, apiKey, modelName string, logger *zap.Logger) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if modelName == "" {
		modelName = defaultGeminiModelName
	}
	return &LLMService{client: client, modelName: modelName, logger: logger}, nil
}

func (s *LLMService) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close GenAI client: %w", err)
	}
	s.logger.Info("GenAI client closed")
	return nil
}

func (s *LLMService) Generate(ctx context.Context, p Prompt) (string, error) {
	model := s.client.GenerativeModel(s.modelName)
	if p.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(p.System)},
		}
	}
	if schema := geminiSchema(p.Shape); schema != nil {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = schema
	}

	resp, err := model.GenerateContent(ctx, genai.Text(p.Text))
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response was empty or had no valid candidates")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			s.logger.Debug("Gemini response part was not text", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}

	if responseText.Len() == 0 {
		return "", fmt.Errorf("gemini response had no text")
	}
	return responseText.String(), nil
}

func geminiSchema(shape ResponseShape) *genai.Schema {
	switch shape {
	case ShapeMatches:
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"matches": {
					Type: genai.TypeArray,
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"mentorId": {Type: genai.TypeString},
							"reason":   {Type: genai.TypeString},
						},
						Required: []string{"mentorId", "reason"},
					},
				},
			},
			Required: []string{"matches"},
		}
	case ShapeIcebreakers:
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"icebreakers": {
					Type:  genai.TypeArray,
					Items: &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"icebreakers"},
		}
	}
	return nil
}

// unavailableModel fails every request so callers fall back.
type unavailableModel struct{}

func (unavailableModel) Generate(context.Context, Prompt) (string, error) {
	return "", ErrGeneratorUnavailable
}

func (unavailableModel) Close() error { return nil }

// NewUnavailableGenerator returns a generator that always fails.
func NewUnavailableGenerator() Generator { return unavailableModel{} }
