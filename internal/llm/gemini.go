package llm

import (
	"context"
	"fmt"
	"strings"

	"diet-coach/internal/config"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiAudioModel = "gemini-1.5-flash"

// geminiTranscriber sends the audio inline to a multimodal Gemini model.
type geminiTranscriber struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiTranscriber creates a new Gemini speech-to-text client.
func NewGeminiTranscriber(ctx context.Context, cfg *config.Config) (Transcriber, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := client.GenerativeModel(geminiAudioModel)
	model.SetTemperature(0)
	return &geminiTranscriber{client: client, model: model}, nil
}

// Transcribe returns the spoken text of the audio clip.
func (c *geminiTranscriber) Transcribe(ctx context.Context, mimeType string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio")
	}
	resp, err := c.model.GenerateContent(ctx,
		genai.Blob{MIMEType: strings.Split(mimeType, ";")[0], Data: audio},
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no content generated")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("no speech recognized")
	}
	return out, nil
}

// Close closes the underlying Gemini client.
func (c *geminiTranscriber) Close() error {
	return c.client.Close()
}
