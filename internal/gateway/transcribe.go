package gateway

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"

	"github.com/vividverse/vividverse-backend/internal/config"
)

// Transcriber produces caption text for synthesized audio. Callers treat
// failure as non-fatal and degrade to empty captions.
type Transcriber interface {
	Transcribe(ctx context.Context, audio *Audio) (string, error)
}

// TranscribeGateway calls the provider's transcription endpoint with the
// audio bytes as a multipart upload.
type TranscribeGateway struct {
	client *apiClient
	model  string
}

// NewTranscribeGateway creates a TranscribeGateway from provider
// configuration.
func NewTranscribeGateway(cfg config.ProvidersConfig) *TranscribeGateway {
	return &TranscribeGateway{
		client: newAPIClient(cfg.TextBaseURL, cfg.TextAPIKey),
		model:  "whisper-1",
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe returns the transcript text for the audio.
func (g *TranscribeGateway) Transcribe(ctx context.Context, audio *Audio) (string, error) {
	if audio == nil || len(audio.Bytes) == 0 {
		return "", fmt.Errorf("no audio to transcribe")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "voiceover.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(audio.Bytes); err != nil {
		return "", fmt.Errorf("failed to write audio part: %w", err)
	}
	if err := writer.WriteField("model", g.model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	var resp transcriptionResponse
	if err := g.client.postMultipart(ctx, "/v1/audio/transcriptions", writer.FormDataContentType(), &body, &resp); err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	return resp.Text, nil
}
