package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"diet-coach/internal/config"
)

const (
	groqTranscriptionURL = "https://api.groq.com/openai/v1/audio/transcriptions"
	groqWhisperModel     = "whisper-large-v3-turbo"
)

// groqTranscriber calls Groq's Whisper endpoint.
type groqTranscriber struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

// NewGroqTranscriber creates a new Groq speech-to-text client.
func NewGroqTranscriber(cfg *config.Config) Transcriber {
	return &groqTranscriber{
		apiKey: cfg.GroqAPIKey,
		url:    groqTranscriptionURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Transcribe uploads the audio and returns the recognized text.
func (c *groqTranscriber) Transcribe(ctx context.Context, mimeType string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "voice"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	_ = w.WriteField("model", groqWhisperModel)
	_ = w.WriteField("response_format", "json")
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("groq api error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var groqResp struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&groqResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	text := strings.TrimSpace(groqResp.Text)
	if text == "" {
		return "", fmt.Errorf("no speech recognized")
	}
	return text, nil
}

func (c *groqTranscriber) Close() error { return nil }

// extensionFor maps the voice formats Telegram and browsers send to a file
// extension Whisper recognizes.
func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0])) {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	}
	return ".ogg"
}
