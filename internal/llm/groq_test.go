package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"diet-coach/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroqTranscriber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer groq-key", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, groqWhisperModel, r.FormValue("model"))

		file, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "voice.ogg", header.Filename)
			assert.Equal(t, []byte("OggS"), data)
		}
		_, _ = w.Write([]byte(`{"text": "  grilled chicken with rice "}`))
	}))
	defer server.Close()

	tr := NewGroqTranscriber(&config.Config{GroqAPIKey: "groq-key"}).(*groqTranscriber)
	tr.url = server.URL

	text, err := tr.Transcribe(context.Background(), "audio/ogg; codecs=opus", []byte("OggS"))
	require.NoError(t, err)
	assert.Equal(t, "grilled chicken with rice", text)
}

func TestGroqTranscriber_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"ServerError", http.StatusInternalServerError, `{"error": "down"}`},
		{"EmptyTranscript", http.StatusOK, `{"text": ""}`},
		{"BadJSON", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tr := NewGroqTranscriber(&config.Config{GroqAPIKey: "k"}).(*groqTranscriber)
			tr.url = server.URL

			_, err := tr.Transcribe(context.Background(), "audio/ogg", []byte("x"))
			assert.Error(t, err)
		})
	}

	_, err := NewGroqTranscriber(&config.Config{}).Transcribe(context.Background(), "audio/ogg", nil)
	assert.Error(t, err)
}

func TestNewTranscriber(t *testing.T) {
	tr, err := NewTranscriber(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, tr, "voice is optional")

	tr, err = NewTranscriber(context.Background(), &config.Config{GroqAPIKey: "k", GeminiAPIKey: "g"})
	require.NoError(t, err)
	assert.IsType(t, &groqTranscriber{}, tr)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".ogg", extensionFor("audio/ogg"))
	assert.Equal(t, ".m4a", extensionFor("audio/x-m4a"))
	assert.Equal(t, ".webm", extensionFor("AUDIO/WEBM;codecs=opus"))
	assert.Equal(t, ".ogg", extensionFor(""))
}
