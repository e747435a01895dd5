// Package render submits an assembled asset bundle to the remote
// composition renderer and resolves it to a final playable URL.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vividverse/vividverse-backend/internal/gateway"
	"github.com/vividverse/vividverse-backend/internal/metrics"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

var tracer = otel.Tracer("vividverse-render")

// Polling parameters. The attempt cap bounds a render at roughly five
// minutes of polling; the source behavior of waiting forever was an
// oversight, not a policy.
const (
	PollInterval    = 2 * time.Second
	MaxPollAttempts = 150
)

// RecordStore is the subset of the record repository the dispatcher needs.
type RecordStore interface {
	SetRenderID(ctx context.Context, videoID, renderID string) error
	CompleteRender(ctx context.Context, videoID, renderURL string) error
}

// Dispatcher drives one remote render job to a terminal state.
type Dispatcher struct {
	client       gateway.RenderClient
	store        RecordStore
	log          *slog.Logger
	pollInterval time.Duration
	maxAttempts  int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(client gateway.RenderClient, store RecordStore, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:       client,
		store:        store,
		log:          log,
		pollInterval: PollInterval,
		maxAttempts:  MaxPollAttempts,
	}
}

// BundleFromRecord assembles the render input from a completed record.
func BundleFromRecord(record *models.VideoRecord) (gateway.RenderBundle, error) {
	if record.Status != models.StatusCompleted {
		return gateway.RenderBundle{}, fmt.Errorf("%w: record must be completed before rendering, got %s", models.ErrInvalidStatus, record.Status)
	}
	if record.ScriptDetails == nil || len(record.ImageURIs) == 0 {
		return gateway.RenderBundle{}, fmt.Errorf("record %s has no assets to render", record.VideoID)
	}

	scenes := make([]gateway.RenderScene, len(record.ScriptDetails.Scenes))
	for i, scene := range record.ScriptDetails.Scenes {
		imageURL := ""
		if i < len(record.ImageURIs) {
			imageURL = record.ImageURIs[i]
		}
		scenes[i] = gateway.RenderScene{
			Text:     scene.ContentText,
			ImageURL: imageURL,
		}
	}

	return gateway.RenderBundle{
		Scenes:                scenes,
		AudioURL:              record.AudioURI,
		MusicURL:              record.MusicURI,
		Captions:              record.CaptionsText,
		PrimaryColor:          record.PrimaryColor,
		SecondaryColor:        record.SecondaryColor,
		FontFamily:            record.FontFamily,
		ImageDurationInFrames: record.ImageDurationInFrames,
		TotalDurationInFrames: record.TotalDurationInFrames,
	}, nil
}

// Dispatch submits the record's bundle, persists the job handle
// immediately, and polls until the job reports completion or a fatal
// error. It returns the final playable URL.
func (d *Dispatcher) Dispatch(ctx context.Context, record *models.VideoRecord) (string, error) {
	ctx, span := tracer.Start(ctx, "render-dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("video.id", record.VideoID))

	bundle, err := BundleFromRecord(record)
	if err != nil {
		return "", err
	}

	start := time.Now()

	renderID, err := d.client.SubmitRenderJob(ctx, bundle)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("render.id", renderID))

	// Persist the handle before polling so an interrupted poll can be
	// observed later.
	if err := d.store.SetRenderID(ctx, record.VideoID, renderID); err != nil {
		d.log.WarnContext(ctx, "Failed to persist render id",
			"videoId", record.VideoID,
			"renderId", renderID,
			"error", err,
		)
	}

	d.log.InfoContext(ctx, "Render job submitted",
		"videoId", record.VideoID,
		"renderId", renderID,
	)

	outputURL, err := d.poll(ctx, renderID)
	if err != nil {
		metrics.RenderPolls.WithLabelValues("failed").Inc()
		return "", err
	}
	metrics.RenderPolls.WithLabelValues("completed").Inc()
	metrics.RenderDuration.Observe(time.Since(start).Seconds())

	if err := d.store.CompleteRender(ctx, record.VideoID, outputURL); err != nil {
		return "", fmt.Errorf("failed to persist render url: %w", err)
	}

	d.log.InfoContext(ctx, "Render job completed",
		"videoId", record.VideoID,
		"renderId", renderID,
		"renderUrl", outputURL,
	)

	return outputURL, nil
}

func (d *Dispatcher) poll(ctx context.Context, renderID string) (string, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", models.ErrContextCanceled, ctx.Err())
		case <-ticker.C:
		}

		status, err := d.client.PollRenderStatus(ctx, renderID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrRenderFailed, err)
		}

		if status.FatalErrorEncountered {
			return "", fmt.Errorf("%w: %s", models.ErrRenderFailed, firstErrorMessage(status))
		}

		if status.OverallProgress >= 1.0 {
			if status.OutputFile == "" {
				// The job reported completion but produced nothing
				// playable; distinct from an explicit fatal error.
				return "", fmt.Errorf("%w: render %s", models.ErrRenderNoOutput, renderID)
			}
			return status.OutputFile, nil
		}
	}

	return "", fmt.Errorf("%w: render %s still in progress after %d polls", models.ErrRenderTimeout, renderID, d.maxAttempts)
}

func firstErrorMessage(status *gateway.RenderStatus) string {
	if len(status.Errors) > 0 && status.Errors[0].Message != "" {
		return status.Errors[0].Message
	}
	return "render job reported a fatal error without a message"
}
