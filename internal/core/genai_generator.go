package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	genaisdk "google.golang.org/genai"
)

// GenAIGenerator generates replies through the google.golang.org/genai SDK.
type GenAIGenerator struct {
	client    *genaisdk.Client
	modelName string
}

func NewGenAIGenerator(ctx context.Context, apiKey, modelName string) (*GenAIGenerator, error) {
	client, err := genaisdk.NewClient(ctx, &genaisdk.ClientConfig{
		APIKey:  apiKey,
		Backend: genaisdk.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init genai client: %w", err)
	}
	if modelName == "" {
		modelName = defaultReplyModelName
	}
	return &GenAIGenerator{client: client, modelName: modelName}, nil
}

func (g *GenAIGenerator) GenerateReply(ctx context.Context, prompt string) (string, error) {
	cfg := &genaisdk.GenerateContentConfig{
		SystemInstruction: genaisdk.NewContentFromText(replySystemInstruction, genaisdk.RoleUser),
		Temperature:       genaisdk.Ptr(replyTemperature),
		MaxOutputTokens:   replyMaxTokens,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName, genaisdk.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("genai reply generation failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		log.Warn().Msg("genai response was empty or had no valid candidates")
		return "", nil
	}

	var rawText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			rawText.WriteString(part.Text)
		}
	}
	return cleanReply(rawText.String()), nil
}
