// Package orchestrator drives one end-to-end generation attempt for one
// placeholder record and always leaves the record store in a terminal state,
// completed or failed.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vividverse/vividverse-backend/internal/gateway"
	"github.com/vividverse/vividverse-backend/internal/metrics"
	"github.com/vividverse/vividverse-backend/internal/storage"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

var tracer = otel.Tracer("vividverse-orchestrator")

// Stage labels one state of the generation pipeline. Stages are
// observational: they feed progress callbacks and metrics, never the
// persisted record.
type Stage string

const (
	StageScripting  Stage = "scripting"
	StageVoicing    Stage = "voicing"
	StageCaptioning Stage = "captioning"
	StageImaging    Stage = "imaging"
	StageUploading  Stage = "uploading"
	StageFinalizing Stage = "finalizing"
)

// VideoStore is the subset of the record repository the orchestrator needs.
type VideoStore interface {
	MarkProcessing(ctx context.Context, videoID string) error
	CompleteGeneration(ctx context.Context, videoID string, update storage.CompletionUpdate) error
	FailGeneration(ctx context.Context, videoID, errorMessage string) error
}

// AssetUploader is the subset of the asset store the orchestrator needs.
type AssetUploader interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
	UploadDataURI(ctx context.Context, key, dataURI string) (string, error)
}

// DurationProber measures the playable length of synthesized audio.
type DurationProber interface {
	AudioDurationFromBytes(ctx context.Context, data []byte) (seconds float64, exact bool)
}

// ProgressFunc receives stage transitions for UI display.
type ProgressFunc func(recordID string, stage Stage)

// Orchestrator runs the generation state machine.
type Orchestrator struct {
	scripts     gateway.ScriptGenerator
	speech      gateway.SpeechSynthesizer
	transcriber gateway.Transcriber
	images      gateway.ImageGenerator
	avatars     gateway.AvatarVideoCreator
	assets      AssetUploader
	store       VideoStore
	prober      DurationProber
	guard       *Guard
	log         *slog.Logger
	onProgress  ProgressFunc
}

// Config holds orchestrator dependencies.
type Config struct {
	Scripts     gateway.ScriptGenerator
	Speech      gateway.SpeechSynthesizer
	Transcriber gateway.Transcriber
	Images      gateway.ImageGenerator
	Avatars     gateway.AvatarVideoCreator
	Assets      AssetUploader
	Store       VideoStore
	Prober      DurationProber
	Logger      *slog.Logger
	OnProgress  ProgressFunc
}

// New creates an Orchestrator with the given configuration.
func New(cfg *Config) *Orchestrator {
	return &Orchestrator{
		scripts:     cfg.Scripts,
		speech:      cfg.Speech,
		transcriber: cfg.Transcriber,
		images:      cfg.Images,
		avatars:     cfg.Avatars,
		assets:      cfg.Assets,
		store:       cfg.Store,
		prober:      cfg.Prober,
		guard:       NewGuard(),
		log:         cfg.Logger,
		onProgress:  cfg.OnProgress,
	}
}

// Run executes one generation attempt for the job's placeholder record. The
// record always ends in a terminal status: completed on success, failed with
// the triggering error's message otherwise.
func (o *Orchestrator) Run(ctx context.Context, job *models.GenerationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrJobParseFailed, err)
	}

	if err := o.guard.Acquire(job.OwnerID); err != nil {
		return err
	}
	defer o.guard.Release(job.OwnerID)

	ctx, span := tracer.Start(ctx, "generation-attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("video.id", job.RecordID),
		attribute.String("video.variant", string(job.Variant)),
	)

	metrics.ActiveAttempts.Inc()
	defer metrics.ActiveAttempts.Dec()

	o.log.InfoContext(ctx, "Starting generation attempt",
		"videoId", job.RecordID,
		"ownerId", job.OwnerID,
		"variant", job.Variant,
	)

	if err := o.store.MarkProcessing(ctx, job.RecordID); err != nil {
		o.log.WarnContext(ctx, "Failed to mark record processing",
			"videoId", job.RecordID,
			"error", err,
		)
	}

	// Any fatal step error is written to the placeholder so the attempt
	// is visible as a failed row instead of a stuck one. The attempt may
	// have died because ctx itself was canceled, so the terminal write
	// runs detached from the attempt's cancellation.
	var attemptErr error
	defer func() {
		if attemptErr != nil {
			span.RecordError(attemptErr)
			metrics.RecordFailure()
			failCtx := context.WithoutCancel(ctx)
			if failErr := o.store.FailGeneration(failCtx, job.RecordID, attemptErr.Error()); failErr != nil {
				o.log.ErrorContext(ctx, "Failed to mark record as failed",
					"videoId", job.RecordID,
					"error", failErr,
				)
			}
		} else {
			metrics.RecordSuccess()
		}
	}()

	switch job.Variant {
	case models.VariantAvatar:
		attemptErr = o.runAvatar(ctx, job)
	default:
		attemptErr = o.runMultiScene(ctx, job)
	}

	return attemptErr
}

func (o *Orchestrator) runMultiScene(ctx context.Context, job *models.GenerationJob) error {
	// scripting
	script, err := o.generateScript(ctx, job)
	if err != nil {
		return err
	}

	// voicing
	o.progress(job.RecordID, StageVoicing)
	audio, err := runStep(ctx, StageVoicing, func(ctx context.Context) (*gateway.Audio, error) {
		return o.speech.Synthesize(ctx, script.FullText())
	})
	if err != nil {
		return err
	}

	// duration estimation: bounded probe, degrade to the default instead
	// of failing the attempt.
	audioSeconds, exact := o.prober.AudioDurationFromBytes(ctx, audio.Bytes)
	if !exact {
		metrics.ProbeFallbacks.Inc()
		o.log.WarnContext(ctx, "Audio duration probe fell back to default",
			"videoId", job.RecordID,
			"defaultSeconds", DefaultAudioDurationSeconds,
		)
	}

	// captioning: optional, degrades to empty captions.
	o.progress(job.RecordID, StageCaptioning)
	captions, err := runStep(ctx, StageCaptioning, func(ctx context.Context) (string, error) {
		return o.transcriber.Transcribe(ctx, audio)
	})
	if err != nil {
		metrics.CaptionFallbacks.Inc()
		o.log.WarnContext(ctx, "Transcription failed, continuing without captions",
			"videoId", job.RecordID,
			"error", err,
		)
		captions = ""
	}

	// imaging: one logical step, all-or-nothing.
	o.progress(job.RecordID, StageImaging)
	images, err := runStep(ctx, StageImaging, func(ctx context.Context) ([]gateway.ImageResult, error) {
		return o.images.GenerateImages(ctx, script.ImagePrompts())
	})
	if err != nil {
		return err
	}

	// uploading
	o.progress(job.RecordID, StageUploading)
	audioURI, imageURIs, err := o.uploadAssets(ctx, job, audio, images)
	if err != nil {
		return err
	}

	// finalizing
	o.progress(job.RecordID, StageFinalizing)
	totalFrames := TotalDurationInFrames(audioSeconds)
	sceneFrames := SceneDurationInFrames(totalFrames, len(script.Scenes))

	update := storage.CompletionUpdate{
		Title:                 script.Title,
		Script:                script,
		ImageURIs:             imageURIs,
		AudioURI:              audioURI,
		CaptionsText:          captions,
		ImageDurationInFrames: sceneFrames,
		TotalDurationInFrames: totalFrames,
	}
	if err := o.store.CompleteGeneration(ctx, job.RecordID, update); err != nil {
		return fmt.Errorf("failed to finalize record: %w", err)
	}

	o.log.InfoContext(ctx, "Generation attempt completed",
		"videoId", job.RecordID,
		"scenes", len(script.Scenes),
		"totalFrames", totalFrames,
		"sceneFrames", sceneFrames,
	)

	return nil
}

func (o *Orchestrator) runAvatar(ctx context.Context, job *models.GenerationJob) error {
	script, err := o.generateScript(ctx, job)
	if err != nil {
		return err
	}

	// The avatar provider voices and composites the script itself; there
	// is no separate voicing, captioning, or imaging state.
	o.progress(job.RecordID, StageImaging)
	videoURL, err := runStep(ctx, StageImaging, func(ctx context.Context) (string, error) {
		return o.avatars.CreateAvatarVideo(ctx, script.FullText(), job.AvatarID)
	})
	if err != nil {
		return err
	}

	o.progress(job.RecordID, StageFinalizing)
	totalFrames := TotalDurationInFrames(DefaultAudioDurationSeconds)

	update := storage.CompletionUpdate{
		Title:                 script.Title,
		Script:                script,
		ImageURIs:             []string{videoURL},
		ImageDurationInFrames: totalFrames,
		TotalDurationInFrames: totalFrames,
	}
	if err := o.store.CompleteGeneration(ctx, job.RecordID, update); err != nil {
		return fmt.Errorf("failed to finalize record: %w", err)
	}

	o.log.InfoContext(ctx, "Avatar generation attempt completed",
		"videoId", job.RecordID,
		"videoUrl", videoURL,
	)

	return nil
}

func (o *Orchestrator) generateScript(ctx context.Context, job *models.GenerationJob) (*models.Script, error) {
	o.progress(job.RecordID, StageScripting)
	return runStep(ctx, StageScripting, func(ctx context.Context) (*models.Script, error) {
		return o.scripts.GenerateScript(ctx, gateway.ScriptRequest{
			Topic:             job.Topic,
			Style:             job.Style,
			DurationCategory:  job.DurationCategory,
			SceneDurationHint: SceneDurationHint(job.DurationCategory),
		})
	})
}

// uploadAssets pushes every locally-held asset to the asset store under the
// record's deterministic path. Remote image URLs pass through unchanged;
// data URIs and inline bytes are uploaded.
func (o *Orchestrator) uploadAssets(ctx context.Context, job *models.GenerationJob, audio *gateway.Audio, images []gateway.ImageResult) (audioURI string, imageURIs []string, err error) {
	key := storage.AssetKey(job.OwnerID, job.RecordID, storage.AssetKindAudio, -1)
	audioURI, err = o.assets.UploadBytes(ctx, key, audio.Bytes, audio.MimeType)
	if err != nil {
		return "", nil, fmt.Errorf("%w: audio: %v", models.ErrUploadFailed, err)
	}

	imageURIs = make([]string, len(images))
	for i, img := range images {
		key := storage.AssetKey(job.OwnerID, job.RecordID, storage.AssetKindImage, i)

		var uri string
		var uploadErr error
		switch {
		case strings.HasPrefix(img.URL, "data:"):
			uri, uploadErr = o.assets.UploadDataURI(ctx, key, img.URL)
		case img.URL != "":
			uri = img.URL
		default:
			uri, uploadErr = o.assets.UploadBytes(ctx, key, img.Data, img.MimeType)
		}
		if uploadErr != nil {
			return "", nil, fmt.Errorf("%w: image %d: %v", models.ErrUploadFailed, i, uploadErr)
		}
		imageURIs[i] = uri
	}

	return audioURI, imageURIs, nil
}

// runStep runs one pipeline step under a span and a step-duration metric.
func runStep[T any](ctx context.Context, stage Stage, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, string(stage))
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)
	metrics.StepDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (o *Orchestrator) progress(recordID string, stage Stage) {
	if o.onProgress != nil {
		o.onProgress(recordID, stage)
	}
}
