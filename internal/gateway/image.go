package gateway

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vividverse/vividverse-backend/internal/config"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

// Image generation is rate-limited upstream; bound in-flight requests.
const maxConcurrentImageRequests = 2

// ImageResult is one generated image: either a remote URL or inline bytes,
// never both.
type ImageResult struct {
	URL      string
	Data     []byte
	MimeType string
}

// ImageGenerator produces one image per prompt, all-or-nothing.
type ImageGenerator interface {
	GenerateImages(ctx context.Context, prompts []string) ([]ImageResult, error)
}

// ImageGateway calls the provider's image generation endpoint, one request
// per prompt, bundled as one logical step.
type ImageGateway struct {
	client *apiClient
	model  string
	size   string
}

// NewImageGateway creates an ImageGateway from provider configuration.
func NewImageGateway(cfg config.ProvidersConfig) *ImageGateway {
	return &ImageGateway{
		client: newAPIClient(cfg.TextBaseURL, cfg.TextAPIKey),
		model:  "dall-e-3",
		size:   cfg.ImageSize,
	}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url,omitempty"`
		B64JSON string `json:"b64_json,omitempty"`
	} `json:"data"`
}

// GenerateImages produces one image per prompt, in prompt order. Any single
// failure fails the whole call.
func (g *ImageGateway) GenerateImages(ctx context.Context, prompts []string) ([]ImageResult, error) {
	if len(prompts) == 0 {
		return nil, fmt.Errorf("%w: no prompts", models.ErrImagingFailed)
	}

	results := make([]ImageResult, len(prompts))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentImageRequests)

	for i, prompt := range prompts {
		group.Go(func() error {
			result, err := g.generateOne(gctx, prompt)
			if err != nil {
				return fmt.Errorf("scene %d: %w", i, err)
			}
			results[i] = *result
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrImagingFailed, err)
	}

	return results, nil
}

func (g *ImageGateway) generateOne(ctx context.Context, prompt string) (*ImageResult, error) {
	var resp imageResponse
	err := g.client.postJSON(ctx, "/v1/images/generations", imageRequest{
		Model:  g.model,
		Prompt: prompt,
		Size:   g.size,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("provider returned no image")
	}

	item := resp.Data[0]
	if item.URL != "" {
		return &ImageResult{URL: item.URL}, nil
	}

	if item.B64JSON == "" {
		return nil, fmt.Errorf("provider returned neither url nor inline data")
	}

	data, err := base64.StdEncoding.DecodeString(item.B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode inline image: %w", err)
	}

	return &ImageResult{Data: data, MimeType: "image/png"}, nil
}
