package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/vividverse/vividverse-backend/internal/config"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

// Audio is synthesized speech held in memory until the uploading step.
type Audio struct {
	Bytes    []byte
	MimeType string
}

// SpeechSynthesizer turns narration text into an audio asset.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

// SpeechGateway calls the provider's text-to-speech endpoint.
type SpeechGateway struct {
	client *apiClient
	model  string
	voice  string
}

// NewSpeechGateway creates a SpeechGateway from provider configuration.
func NewSpeechGateway(cfg config.ProvidersConfig) *SpeechGateway {
	return &SpeechGateway{
		client: newAPIClient(cfg.TextBaseURL, cfg.TextAPIKey),
		model:  "tts-1",
		voice:  cfg.SpeechVoice,
	}
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// Synthesize produces the voiceover for text. It fails on empty or
// whitespace-only input and on an empty provider result.
func (g *SpeechGateway) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.ErrEmptySpeechText
	}

	data, contentType, err := g.client.postForBytes(ctx, "/v1/audio/speech", speechRequest{
		Model: g.model,
		Input: text,
		Voice: g.voice,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrVoicingFailed, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: provider returned no audio", models.ErrVoicingFailed)
	}

	if contentType == "" {
		contentType = "audio/mpeg"
	}

	return &Audio{Bytes: data, MimeType: contentType}, nil
}
