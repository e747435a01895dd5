package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vividverse/vividverse-backend/internal/config"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

// ScriptRequest carries the user's description of the video to script.
type ScriptRequest struct {
	Topic             string
	Style             string
	DurationCategory  string
	SceneDurationHint int // target seconds per scene, 0 for provider default
}

// ScriptGenerator produces a structured script for a topic.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, req ScriptRequest) (*models.Script, error)
}

// ScriptGateway calls the text-generation provider's chat endpoint and
// parses the JSON-mode response into a Script.
type ScriptGateway struct {
	client *apiClient
	model  string
}

// NewScriptGateway creates a ScriptGateway from provider configuration.
func NewScriptGateway(cfg config.ProvidersConfig) *ScriptGateway {
	return &ScriptGateway{
		client: newAPIClient(cfg.TextBaseURL, cfg.TextAPIKey),
		model:  cfg.TextModel,
	}
}

const scriptSystemPrompt = `You are a short-video scriptwriter. Respond with a single JSON object:
{"title": string, "scenes": [{"contentText": string, "imagePrompt": string}]}
Each scene's contentText is narration for roughly the requested number of seconds.
Each imagePrompt describes a single vivid image matching that scene.`

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateScript requests a structured script. It fails on a malformed
// response, an empty title, or zero scenes.
func (g *ScriptGateway) GenerateScript(ctx context.Context, req ScriptRequest) (*models.Script, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s", req.Topic)
	if req.Style != "" {
		fmt.Fprintf(&sb, "\nStyle: %s", req.Style)
	}
	if req.DurationCategory != "" {
		fmt.Fprintf(&sb, "\nTarget length: %s", req.DurationCategory)
	}
	if req.SceneDurationHint > 0 {
		fmt.Fprintf(&sb, "\nSeconds per scene: about %d", req.SceneDurationHint)
	}

	var resp chatResponse
	err := g.client.postJSON(ctx, "/v1/chat/completions", chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: scriptSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		ResponseFormat: &chatFormat{Type: "json_object"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrScriptingFailed, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", models.ErrScriptingFailed)
	}

	var script models.Script
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &script); err != nil {
		return nil, fmt.Errorf("%w: malformed script JSON: %v", models.ErrScriptingFailed, err)
	}

	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrScriptingFailed, err)
	}

	return &script, nil
}
