package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/vividverse/vividverse-backend/pkg/models"
)

// VideoRepository handles VideoRecord persistence in DynamoDB.
// Single-table layout: PK "VIDEO#{id}", SK "METADATA", GSI1 keyed by
// "OWNER#{ownerId}" for reverse-chronological list-by-owner.
type VideoRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewVideoRepository creates a new VideoRepository from a DynamoDB client.
func NewVideoRepository(client *dynamodb.Client, tableName string) (*VideoRepository, error) {
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return &VideoRepository{
		client:    client,
		tableName: tableName,
	}, nil
}

// PlaceholderParams holds the user-supplied fields for a new record.
type PlaceholderParams struct {
	OwnerID          string
	Topic            string
	Style            string
	DurationCategory string
	Variant          models.VideoVariant
	PrimaryColor     string
	SecondaryColor   string
	FontFamily       string
}

// CreatePlaceholder creates a pending record before any generation work
// begins, so a failed attempt is still visible as a failed row.
func (r *VideoRepository) CreatePlaceholder(ctx context.Context, params PlaceholderParams) (*models.VideoRecord, error) {
	if params.OwnerID == "" {
		return nil, models.ErrMissingOwnerID
	}

	videoID := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339)

	record := &models.VideoRecord{
		PK:               fmt.Sprintf("VIDEO#%s", videoID),
		SK:               "METADATA",
		GSI1PK:           fmt.Sprintf("OWNER#%s", params.OwnerID),
		GSI1SK:           fmt.Sprintf("%s#%s", now, videoID),
		VideoID:          videoID,
		OwnerID:          params.OwnerID,
		Topic:            params.Topic,
		Style:            params.Style,
		DurationCategory: params.DurationCategory,
		Variant:          params.Variant,
		PrimaryColor:     params.PrimaryColor,
		SecondaryColor:   params.SecondaryColor,
		FontFamily:       params.FontFamily,
		Status:           models.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal video record: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, fmt.Errorf("video already exists: %s", videoID)
		}
		return nil, fmt.Errorf("failed to create video record: %w", err)
	}

	return record, nil
}

// GetVideo retrieves a record by id.
func (r *VideoRepository) GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(videoID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrVideoNotFound
	}

	var record models.VideoRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}

	return &record, nil
}

// MarkProcessing transitions a record to processing at attempt start.
func (r *VideoRepository) MarkProcessing(ctx context.Context, videoID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(videoID),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusProcessing)},
			":updated_at": &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrVideoNotFound
		}
		return fmt.Errorf("failed to mark video processing: %w", err)
	}

	return nil
}

// CompletionUpdate holds every field written by the finalizing step.
type CompletionUpdate struct {
	Title                 string
	Script                *models.Script
	ImageURIs             []string
	AudioURI              string
	CaptionsText          string
	MusicURI              string
	ImageDurationInFrames int
	TotalDurationInFrames int
}

// CompleteGeneration finalizes a record in a single update with
// status=completed.
func (r *VideoRepository) CompleteGeneration(ctx context.Context, videoID string, update CompletionUpdate) error {
	now := time.Now().UTC().Format(time.RFC3339)

	scriptAV, err := attributevalue.Marshal(update.Script)
	if err != nil {
		return fmt.Errorf("failed to marshal script: %w", err)
	}
	imagesAV, err := attributevalue.Marshal(update.ImageURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal image uris: %w", err)
	}

	values := map[string]types.AttributeValue{
		":status":       &types.AttributeValueMemberS{Value: string(models.StatusCompleted)},
		":updated_at":   &types.AttributeValueMemberS{Value: now},
		":title":        &types.AttributeValueMemberS{Value: update.Title},
		":script":       scriptAV,
		":images":       imagesAV,
		":audio":        &types.AttributeValueMemberS{Value: update.AudioURI},
		":captions":     &types.AttributeValueMemberS{Value: update.CaptionsText},
		":image_frames": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", update.ImageDurationInFrames)},
		":total_frames": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", update.TotalDurationInFrames)},
	}

	expr := `
		SET #status = :status,
		    updated_at = :updated_at,
		    title = :title,
		    script_details = :script,
		    image_uris = :images,
		    audio_uri = :audio,
		    captions_text = :captions,
		    image_duration_frames = :image_frames,
		    total_duration_frames = :total_frames
	`
	if update.MusicURI != "" {
		expr += ", music_uri = :music"
		values[":music"] = &types.AttributeValueMemberS{Value: update.MusicURI}
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              r.key(videoID),
		UpdateExpression: aws.String(expr),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrVideoNotFound
		}
		return fmt.Errorf("failed to complete video: %w", err)
	}

	return nil
}

// FailGeneration marks a record as failed with the triggering error text,
// so the attempt never leaves the record stuck in a non-terminal status.
func (r *VideoRepository) FailGeneration(ctx context.Context, videoID, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(videoID),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at, error_message = :error"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusFailed)},
			":updated_at": &types.AttributeValueMemberS{Value: now},
			":error":      &types.AttributeValueMemberS{Value: errorMessage},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark video as failed: %w", err)
	}

	return nil
}

// SetRenderID persists the external render job handle as soon as it is
// known, so an interrupted poll can be observed later.
func (r *VideoRepository) SetRenderID(ctx context.Context, videoID, renderID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(videoID),
		UpdateExpression: aws.String("SET render_id = :render_id, updated_at = :updated_at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":render_id":  &types.AttributeValueMemberS{Value: renderID},
			":updated_at": &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrVideoNotFound
		}
		return fmt.Errorf("failed to set render id: %w", err)
	}

	return nil
}

// CompleteRender persists the final playable URL after a successful render.
func (r *VideoRepository) CompleteRender(ctx context.Context, videoID, renderURL string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(videoID),
		UpdateExpression: aws.String("SET render_url = :render_url, #status = :status, updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":render_url": &types.AttributeValueMemberS{Value: renderURL},
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusCompleted)},
			":updated_at": &types.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to complete render: %w", err)
	}

	return nil
}

// ListByOwner retrieves an owner's records in reverse chronological order.
func (r *VideoRepository) ListByOwner(ctx context.Context, ownerID string, limit int32, startKey map[string]types.AttributeValue) ([]models.VideoRecord, map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("OWNER#%s", ownerID)},
		},
		ScanIndexForward: aws.Bool(false), // Newest first
		Limit:            aws.Int32(limit),
	}

	if startKey != nil {
		input.ExclusiveStartKey = startKey
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list videos: %w", err)
	}

	var records []models.VideoRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal videos: %w", err)
	}

	return records, result.LastEvaluatedKey, nil
}

// DeleteVideo removes the record document. Asset cleanup is handled
// separately by the AssetStore (best-effort, not transactional).
func (r *VideoRepository) DeleteVideo(ctx context.Context, videoID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(videoID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	return nil
}

func (r *VideoRepository) key(videoID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("VIDEO#%s", videoID)},
		"sk": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}
