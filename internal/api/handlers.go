package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vividverse/vividverse-backend/internal/auth"
	"github.com/vividverse/vividverse-backend/internal/config"
	"github.com/vividverse/vividverse-backend/internal/metrics"
	"github.com/vividverse/vividverse-backend/internal/storage"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

var tracer = otel.Tracer("vividverse-api")

// Configuration constants
const (
	MaxRequestBodySize = 1 << 20 // 1 MB
	DefaultListLimit   = 20
	MaxListLimit       = 50
	RenderDeadline     = 310 * time.Second
)

// VideoStore defines the record operations the handlers need.
type VideoStore interface {
	CreatePlaceholder(ctx context.Context, params storage.PlaceholderParams) (*models.VideoRecord, error)
	GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error)
	ListByOwner(ctx context.Context, ownerID string, limit int32, startKey map[string]types.AttributeValue) ([]models.VideoRecord, map[string]types.AttributeValue, error)
	DeleteVideo(ctx context.Context, videoID string) error
}

// AssetRemover deletes stored assets by their public URLs.
type AssetRemover interface {
	DeleteAssets(ctx context.Context, urls []string) error
}

// QueueClient defines the SQS operations the handlers need.
type QueueClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RenderStarter submits a completed record for rendering and waits for
// the rendered file URL.
type RenderStarter interface {
	Dispatch(ctx context.Context, record *models.VideoRecord) (string, error)
}

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	cfg        *config.Config
	log        *slog.Logger
	videoRepo  VideoStore
	assets     AssetRemover
	sqsClient  QueueClient
	renderer   RenderStarter
	jwtService *auth.JWTService
}

// HandlersConfig holds dependencies for handlers.
type HandlersConfig struct {
	Config     *config.Config
	Logger     *slog.Logger
	VideoRepo  VideoStore
	Assets     AssetRemover
	SQSClient  QueueClient
	Renderer   RenderStarter
	JWTService *auth.JWTService
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:        cfg.Config,
		log:        cfg.Logger,
		videoRepo:  cfg.VideoRepo,
		assets:     cfg.Assets,
		sqsClient:  cfg.SQSClient,
		renderer:   cfg.Renderer,
		jwtService: cfg.JWTService,
	}
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, map[string]string{"error": message})
}

// limitRequestBody wraps the request body with a size limit.
func (h *Handlers) limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
}

func (h *Handlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	h.limitRequestBody(w, r)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// LoginHandler handles user authentication and returns a JWT token.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := auth.GetClientIP(r)

	username, password, ok := r.BasicAuth()
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing credentials")
		return
	}

	expectedUsername, expectedPassword, err := h.cfg.GetAPICredentials()
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to get API credentials", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	if username != expectedUsername || password != expectedPassword {
		h.log.WarnContext(ctx, "Failed login attempt", "username", username, "ip", clientIP)
		metrics.AuthFailures.WithLabelValues("bad_credentials").Inc()
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.jwtService.GenerateToken(username)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to generate token", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.log.InfoContext(ctx, "Successful login", "username", username, "ip", clientIP)
	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"token": token})
}

// GenerateRequest is the request payload for starting a generation attempt.
type GenerateRequest struct {
	Topic            string `json:"topic"`
	Style            string `json:"style"`
	DurationCategory string `json:"durationCategory"`
	Variant          string `json:"variant"`
	AvatarID         string `json:"avatarId"`
	PrimaryColor     string `json:"primaryColor"`
	SecondaryColor   string `json:"secondaryColor"`
	FontFamily       string `json:"fontFamily"`
}

// GenerateResponse is the response payload for a queued generation attempt.
type GenerateResponse struct {
	VideoID   string `json:"videoId"`
	Status    string `json:"status"`
	RequestID string `json:"requestId"`
}

// GenerateHandler creates a pending record and queues the generation job.
func (h *Handlers) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	requestID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "generate-handler",
		trace.WithAttributes(
			attribute.String("handler", "generate"),
			attribute.String("request.id", requestID),
		))
	defer span.End()

	ownerID := auth.UsernameFromContext(ctx)
	if ownerID == "" {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing identity")
		return
	}

	var req GenerateRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Topic) == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "topic is required")
		return
	}

	variant := models.VideoVariant(req.Variant)
	if variant == "" {
		variant = models.VariantMultiScene
	}
	if !variant.IsValid() {
		h.writeError(ctx, w, http.StatusBadRequest, "variant must be multiScene or avatar")
		return
	}
	if variant == models.VariantAvatar && req.AvatarID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "avatarId is required for avatar videos")
		return
	}

	record, err := h.videoRepo.CreatePlaceholder(ctx, storage.PlaceholderParams{
		OwnerID:          ownerID,
		Topic:            req.Topic,
		Style:            req.Style,
		DurationCategory: req.DurationCategory,
		Variant:          variant,
		PrimaryColor:     req.PrimaryColor,
		SecondaryColor:   req.SecondaryColor,
		FontFamily:       req.FontFamily,
	})
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to create video record",
			"error", err,
			"owner", ownerID,
			"requestId", requestID,
		)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to create video record")
		return
	}

	span.SetAttributes(
		attribute.String("video.id", record.VideoID),
		attribute.String("video.variant", string(variant)),
	)

	job := models.GenerationJob{
		RecordID:         record.VideoID,
		OwnerID:          ownerID,
		Topic:            req.Topic,
		Style:            req.Style,
		DurationCategory: req.DurationCategory,
		Variant:          variant,
		AvatarID:         req.AvatarID,
	}

	messageBytes, err := json.Marshal(job)
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to marshal generation job", "error", err, "requestId", requestID)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}

	_, err = h.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.cfg.AWS.SQSQueueURL),
		MessageBody: aws.String(string(messageBytes)),
	})
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to queue generation job",
			"error", err,
			"videoId", record.VideoID,
			"requestId", requestID,
		)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to queue job")
		return
	}

	metrics.GenerationsSubmitted.Inc()
	h.log.InfoContext(ctx, "Generation job queued",
		"videoId", record.VideoID,
		"owner", ownerID,
		"variant", variant,
		"requestId", requestID,
	)

	h.writeJSON(ctx, w, http.StatusAccepted, GenerateResponse{
		VideoID:   record.VideoID,
		Status:    string(models.StatusPending),
		RequestID: requestID,
	})
}

// ListVideosResponse is the response payload for the video listing endpoint.
type ListVideosResponse struct {
	Videos     []models.VideoRecord `json:"videos"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// ListVideosHandler returns the caller's videos, newest first.
func (h *Handlers) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, span := tracer.Start(ctx, "list-videos-handler")
	defer span.End()

	ownerID := auth.UsernameFromContext(ctx)
	if ownerID == "" {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing identity")
		return
	}

	limit := int32(DefaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > MaxListLimit {
			h.writeError(ctx, w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = int32(parsed)
	}

	startKey, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid cursor")
		return
	}

	videos, lastKey, err := h.videoRepo.ListByOwner(ctx, ownerID, limit, startKey)
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to list videos", "error", err, "owner", ownerID)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to list videos")
		return
	}

	if videos == nil {
		videos = []models.VideoRecord{}
	}

	h.writeJSON(ctx, w, http.StatusOK, ListVideosResponse{
		Videos:     videos,
		NextCursor: encodeCursor(lastKey),
	})
}

// VideoByIDHandler serves fetch and delete for a single video.
func (h *Handlers) VideoByIDHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getVideo(w, r)
	case http.MethodDelete:
		h.deleteVideo(w, r)
	default:
		h.writeError(r.Context(), w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handlers) getVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctx, span := tracer.Start(ctx, "get-video-handler")
	defer span.End()

	record, ok := h.ownedRecord(ctx, w, r)
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("video.id", record.VideoID))
	h.writeJSON(ctx, w, http.StatusOK, record)
}

func (h *Handlers) deleteVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctx, span := tracer.Start(ctx, "delete-video-handler")
	defer span.End()

	record, ok := h.ownedRecord(ctx, w, r)
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("video.id", record.VideoID))

	// Remove stored assets first so a partial failure leaves the record
	// visible for a retry.
	if err := h.assets.DeleteAssets(ctx, record.AssetURIs()); err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to delete video assets",
			"error", err,
			"videoId", record.VideoID,
		)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to delete video assets")
		return
	}

	if err := h.videoRepo.DeleteVideo(ctx, record.VideoID); err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to delete video record",
			"error", err,
			"videoId", record.VideoID,
		)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to delete video record")
		return
	}

	metrics.VideosDeleted.Inc()
	h.log.InfoContext(ctx, "Video deleted", "videoId", record.VideoID, "owner", record.OwnerID)
	w.WriteHeader(http.StatusNoContent)
}

// RenderResponse is the response payload for a started render.
type RenderResponse struct {
	VideoID string `json:"videoId"`
	Status  string `json:"status"`
}

// RenderHandler submits a completed video for rendering. The render runs
// in the background; callers observe progress by polling the record.
func (h *Handlers) RenderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, span := tracer.Start(ctx, "render-handler")
	defer span.End()

	record, ok := h.ownedRecord(ctx, w, r)
	if !ok {
		return
	}

	if record.Status != models.StatusCompleted {
		h.writeError(ctx, w, http.StatusConflict, "video generation has not completed")
		return
	}
	if record.RenderURL != "" {
		h.writeJSON(ctx, w, http.StatusOK, map[string]string{
			"videoId":   record.VideoID,
			"renderUrl": record.RenderURL,
		})
		return
	}

	span.SetAttributes(attribute.String("video.id", record.VideoID))

	// Detach from the request context so the client closing the
	// connection does not abort the render.
	go func(rec *models.VideoRecord) {
		renderCtx, cancel := context.WithTimeout(context.Background(), RenderDeadline)
		defer cancel()

		url, err := h.renderer.Dispatch(renderCtx, rec)
		if err != nil {
			h.log.Error("Render failed", "error", err, "videoId", rec.VideoID)
			return
		}
		h.log.Info("Render finished", "videoId", rec.VideoID, "renderUrl", url)
	}(record)

	h.log.InfoContext(ctx, "Render started", "videoId", record.VideoID)
	h.writeJSON(ctx, w, http.StatusAccepted, RenderResponse{
		VideoID: record.VideoID,
		Status:  "rendering",
	})
}

// ownedRecord loads the record from the path and enforces that the
// authenticated user owns it. Records owned by other users read as not
// found.
func (h *Handlers) ownedRecord(ctx context.Context, w http.ResponseWriter, r *http.Request) (*models.VideoRecord, bool) {
	ownerID := auth.UsernameFromContext(ctx)
	if ownerID == "" {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing identity")
		return nil, false
	}

	videoID := r.PathValue("id")
	if videoID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "video id is required")
		return nil, false
	}

	record, err := h.videoRepo.GetVideo(ctx, videoID)
	if err != nil {
		if errors.Is(err, models.ErrVideoNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Video not found")
			return nil, false
		}
		h.log.ErrorContext(ctx, "Failed to load video record", "error", err, "videoId", videoID)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to load video record")
		return nil, false
	}

	if record.OwnerID != ownerID {
		h.writeError(ctx, w, http.StatusNotFound, "Video not found")
		return nil, false
	}

	return record, true
}

// Cursor encoding for list pagination. The DynamoDB exclusive start key
// is flattened to its string members and base64 encoded.

func encodeCursor(key map[string]types.AttributeValue) string {
	if len(key) == 0 {
		return ""
	}

	flat := make(map[string]string, len(key))
	for name, attr := range key {
		if s, ok := attr.(*types.AttributeValueMemberS); ok {
			flat[name] = s.Value
		}
	}

	raw, err := json.Marshal(flat)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, err
	}

	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	if len(flat) == 0 {
		return nil, errors.New("empty cursor")
	}

	key := make(map[string]types.AttributeValue, len(flat))
	for name, value := range flat {
		key[name] = &types.AttributeValueMemberS{Value: value}
	}
	return key, nil
}
