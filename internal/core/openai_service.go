package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const defaultOpenAIModelName = openai.GPT4oMini

// OpenAIService generates with the OpenAI chat completion API.
type OpenAIService struct {
	client    *openai.Client
	modelName string
	logger    *zap.Logger
}

func NewOpenAIService(apiKey, modelName string, logger *zap.Logger) *OpenAIService {
	if modelName == "" {
		modelName = defaultOpenAIModelName
	}
	return &OpenAIService{
		client:    openai.NewClient(apiKey),
		modelName: modelName,
		logger:    logger,
	}
}

func (s *OpenAIService) Generate(ctx context.Context, p Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	system := p.System
	if hint := jsonShapeHint(p.Shape); hint != "" {
		system = strings.TrimSpace(system + "\n" + hint)
	}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.Text,
	})

	req := openai.ChatCompletionRequest{
		Model:    s.modelName,
		Messages: messages,
	}
	if p.Shape != ShapeText {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response had no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai response had no text")
	}
	return text, nil
}

func (s *OpenAIService) Close() error { return nil }

// jsonShapeHint describes the expected object, since JSON mode takes no schema.
func jsonShapeHint(shape ResponseShape) string {
	switch shape {
	case ShapeMatches:
		return `Return a JSON object of the form {"matches": [{"mentorId": "...", "reason": "..."}]}.`
	case ShapeIcebreakers:
		return `Return a JSON object of the form {"icebreakers": ["...", "...", "..."]}.`
	}
	return ""
}
