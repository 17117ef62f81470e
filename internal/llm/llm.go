package llm

import (
	"context"

	"diet-coach/internal/config"
)

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, mimeType string, audio []byte) (string, error)
	Close() error
}

// NewTranscriber picks a speech-to-text backend from the configured keys,
// preferring Groq. It returns nil, nil when no key is set: voice input is
// optional and the swap flow falls back to typed text.
func NewTranscriber(ctx context.Context, cfg *config.Config) (Transcriber, error) {
	switch {
	case cfg.GroqAPIKey != "":
		return NewGroqTranscriber(cfg), nil
	case cfg.GeminiAPIKey != "":
		return NewGeminiTranscriber(ctx, cfg)
	}
	return nil, nil
}

const transcribePrompt = "Transcribe this voice note verbatim. It describes a meal someone ate. " +
	"Reply with the transcript only, without commentary."
