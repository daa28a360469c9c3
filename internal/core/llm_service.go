package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

const (
	defaultReplyModelName = "gemini-1.5-flash-latest"
	replyTemperature      = float32(0.7)
	replyMaxTokens        = int32(400)
)

// ReplyGenerator turns a prompt into reply text. An empty string with a nil
// error means the model produced nothing usable.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator generates replies through the generative-ai-go client.
type GeminiGenerator struct {
	client    *genai.Client
	modelName string
}

func NewGeminiGenerator(ctx context.Context, apiKey, modelName string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if modelName == "" {
		modelName = defaultReplyModelName
	}
	return &GeminiGenerator{client: client, modelName: modelName}, nil
}

func (g *GeminiGenerator) Close() {
	if g.client != nil {
		if err := g.client.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing GenAI client")
		} else {
			log.Info().Msg("GenAI client closed.")
		}
	}
}

func (g *GeminiGenerator) GenerateReply(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(replySystemInstruction)},
	}

	temp := replyTemperature
	maxTokens := replyMaxTokens
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini reply generation failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		log.Warn().Msg("Gemini response was empty or had no valid candidates")
		return "", nil
	}

	var replyText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			replyText.WriteString(string(txt))
		} else {
			log.Debug().Msgf("Gemini response part was not text: %T", part)
		}
	}
	return cleanReply(replyText.String()), nil
}

// cleanReply strips whitespace and wrapping quotes models like to add.
func cleanReply(text string) string {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && strings.HasPrefix(text, "\"") && strings.HasSuffix(text, "\"") {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	return text
}
