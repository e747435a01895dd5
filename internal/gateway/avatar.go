package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vividverse/vividverse-backend/internal/config"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

// Avatar job polling parameters. 60 attempts at 5 seconds bounds the wait
// at roughly five minutes.
const (
	AvatarPollInterval    = 5 * time.Second
	AvatarMaxPollAttempts = 60
)

// AvatarVideoCreator produces a single combined avatar video for a script.
type AvatarVideoCreator interface {
	CreateAvatarVideo(ctx context.Context, scriptText, avatarID string) (string, error)
}

// AvatarGateway submits an avatar-video job and polls it to completion.
type AvatarGateway struct {
	client       *apiClient
	pollInterval time.Duration
	maxAttempts  int
}

// NewAvatarGateway creates an AvatarGateway from provider configuration.
func NewAvatarGateway(cfg config.ProvidersConfig) *AvatarGateway {
	return &AvatarGateway{
		client:       newAPIClient(cfg.AvatarBaseURL, cfg.AvatarAPIKey),
		pollInterval: AvatarPollInterval,
		maxAttempts:  AvatarMaxPollAttempts,
	}
}

type avatarCreateRequest struct {
	AvatarID string `json:"avatar_id"`
	Script   string `json:"script"`
}

type avatarCreateResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

type avatarStatusResponse struct {
	Data struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url,omitempty"`
		Error    struct {
			Message string `json:"message,omitempty"`
		} `json:"error"`
	} `json:"data"`
}

// CreateAvatarVideo submits the job and polls its status every
// AvatarPollInterval, up to AvatarMaxPollAttempts, returning the final
// video URL.
func (g *AvatarGateway) CreateAvatarVideo(ctx context.Context, scriptText, avatarID string) (string, error) {
	if strings.TrimSpace(scriptText) == "" {
		return "", models.ErrEmptySpeechText
	}

	var created avatarCreateResponse
	err := g.client.postJSON(ctx, "/v2/video/generate", avatarCreateRequest{
		AvatarID: avatarID,
		Script:   scriptText,
	}, &created)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrAvatarJobFailed, err)
	}
	if created.Error != "" {
		return "", fmt.Errorf("%w: %s", models.ErrAvatarJobFailed, created.Error)
	}
	if created.Data.VideoID == "" {
		return "", fmt.Errorf("%w: provider returned no job id", models.ErrAvatarJobFailed)
	}

	return g.pollUntilDone(ctx, created.Data.VideoID)
}

func (g *AvatarGateway) pollUntilDone(ctx context.Context, videoID string) (string, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", models.ErrContextCanceled, ctx.Err())
		case <-ticker.C:
		}

		var status avatarStatusResponse
		path := "/v1/video_status.get?video_id=" + url.QueryEscape(videoID)
		if err := g.client.getJSON(ctx, path, &status); err != nil {
			return "", fmt.Errorf("%w: status poll: %v", models.ErrAvatarJobFailed, err)
		}

		switch status.Data.Status {
		case "completed":
			if status.Data.VideoURL == "" {
				return "", fmt.Errorf("%w: completed without a video url", models.ErrAvatarJobFailed)
			}
			return status.Data.VideoURL, nil
		case "failed":
			reason := status.Data.Error.Message
			if reason == "" {
				reason = "provider reported failure without a reason"
			}
			return "", fmt.Errorf("%w: %s", models.ErrAvatarJobFailed, reason)
		}
	}

	return "", fmt.Errorf("%w: job %s still pending after %d attempts", models.ErrAvatarJobTimeout, videoID, g.maxAttempts)
}
