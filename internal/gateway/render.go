package gateway

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vividverse/vividverse-backend/internal/config"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

// RenderScene is one scene of the bundle sent to the remote renderer.
type RenderScene struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

// RenderBundle is the full asset bundle for one render job.
type RenderBundle struct {
	Scenes                []RenderScene `json:"scenes"`
	AudioURL              string        `json:"audioUrl,omitempty"`
	MusicURL              string        `json:"musicUrl,omitempty"`
	Captions              string        `json:"captions,omitempty"`
	PrimaryColor          string        `json:"primaryColor,omitempty"`
	SecondaryColor        string        `json:"secondaryColor,omitempty"`
	FontFamily            string        `json:"fontFamily,omitempty"`
	ImageDurationInFrames int           `json:"imageDurationInFrames"`
	TotalDurationInFrames int           `json:"totalDurationInFrames"`
}

// RenderError is one error reported by the render job.
type RenderError struct {
	Message string `json:"message"`
}

// RenderStatus is a snapshot of a remote render job.
type RenderStatus struct {
	OverallProgress       float64       `json:"overallProgress"`
	FatalErrorEncountered bool          `json:"fatalErrorEncountered"`
	Errors                []RenderError `json:"errors,omitempty"`
	OutputFile            string        `json:"outputFile,omitempty"`
}

// RenderClient submits render jobs and reports their status.
type RenderClient interface {
	SubmitRenderJob(ctx context.Context, bundle RenderBundle) (string, error)
	PollRenderStatus(ctx context.Context, renderID string) (*RenderStatus, error)
}

// RenderGateway talks to the remote video-composition renderer.
type RenderGateway struct {
	client *apiClient
}

// NewRenderGateway creates a RenderGateway from provider configuration.
func NewRenderGateway(cfg config.ProvidersConfig) *RenderGateway {
	return &RenderGateway{
		client: newAPIClient(cfg.RenderBaseURL, cfg.RenderAPIKey),
	}
}

type renderSubmitResponse struct {
	RenderID string `json:"renderId"`
}

// SubmitRenderJob submits the asset bundle and returns the job handle.
func (g *RenderGateway) SubmitRenderJob(ctx context.Context, bundle RenderBundle) (string, error) {
	var resp renderSubmitResponse
	if err := g.client.postJSON(ctx, "/renders", bundle, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRenderFailed, err)
	}
	if resp.RenderID == "" {
		return "", fmt.Errorf("%w: provider returned no render id", models.ErrRenderFailed)
	}
	return resp.RenderID, nil
}

// PollRenderStatus fetches the current status of a render job.
func (g *RenderGateway) PollRenderStatus(ctx context.Context, renderID string) (*RenderStatus, error) {
	var status RenderStatus
	path := "/renders/" + url.PathEscape(renderID)
	if err := g.client.getJSON(ctx, path, &status); err != nil {
		return nil, fmt.Errorf("render status poll failed: %w", err)
	}
	return &status, nil
}
