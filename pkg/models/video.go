package models

import "strings"

// VideoStatus represents the lifecycle status of a video record.
type VideoStatus string

const (
	StatusPending    VideoStatus = "pending"
	StatusProcessing VideoStatus = "processing"
	StatusCompleted  VideoStatus = "completed"
	StatusFailed     VideoStatus = "failed"
)

// IsValid returns true if the status is a valid VideoStatus.
func (s VideoStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true once a record can no longer change status within
// the same attempt.
func (s VideoStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// VideoVariant tags the shape of a record's generated assets.
type VideoVariant string

const (
	// VariantMultiScene carries one image per scene plus a voiceover track.
	VariantMultiScene VideoVariant = "multiScene"
	// VariantAvatar carries a single combined avatar video URL in ImageURIs.
	VariantAvatar VideoVariant = "avatar"
)

// IsValid returns true if the variant is known.
func (v VideoVariant) IsValid() bool {
	return v == VariantMultiScene || v == VariantAvatar
}

// Scene is one segment of a generated script: the text spoken for the
// segment and the prompt used to generate its backing image.
type Scene struct {
	ContentText string `dynamodbav:"content_text" json:"contentText"`
	ImagePrompt string `dynamodbav:"image_prompt" json:"imagePrompt"`
}

// Script is the structured output of the script-generation gateway.
type Script struct {
	Title  string  `dynamodbav:"title" json:"title"`
	Scenes []Scene `dynamodbav:"scenes" json:"scenes"`
}

// Validate checks the script satisfies the minimum contract: a non-empty
// title and at least one scene.
func (s *Script) Validate() error {
	if s == nil || strings.TrimSpace(s.Title) == "" {
		return ErrScriptMissingTitle
	}
	if len(s.Scenes) == 0 {
		return ErrScriptNoScenes
	}
	return nil
}

// FullText joins every scene's content text into the single narration string
// fed to speech synthesis.
func (s *Script) FullText() string {
	parts := make([]string, 0, len(s.Scenes))
	for _, scene := range s.Scenes {
		if t := strings.TrimSpace(scene.ContentText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// ImagePrompts returns the per-scene image prompts in scene order.
func (s *Script) ImagePrompts() []string {
	prompts := make([]string, len(s.Scenes))
	for i, scene := range s.Scenes {
		prompts[i] = scene.ImagePrompt
	}
	return prompts
}

// VideoRecord is the persisted video entity.
type VideoRecord struct {
	// Keys
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk,omitempty"`
	GSI1SK string `dynamodbav:"gsi1sk,omitempty"`

	// Identity and ownership
	VideoID string `dynamodbav:"video_id" json:"videoId"`
	OwnerID string `dynamodbav:"owner_id" json:"ownerId"`

	// Descriptive fields, set once at creation. Title may be finalized
	// after script generation.
	Title            string       `dynamodbav:"title,omitempty" json:"title,omitempty"`
	Topic            string       `dynamodbav:"topic" json:"topic"`
	Style            string       `dynamodbav:"style,omitempty" json:"style,omitempty"`
	DurationCategory string       `dynamodbav:"duration_category,omitempty" json:"durationCategory,omitempty"`
	Variant          VideoVariant `dynamodbav:"variant" json:"variant"`

	// Generation artifacts
	ScriptDetails *Script  `dynamodbav:"script_details,omitempty" json:"scriptDetails,omitempty"`
	ImageURIs     []string `dynamodbav:"image_uris,omitempty" json:"imageUris,omitempty"`
	AudioURI      string   `dynamodbav:"audio_uri,omitempty" json:"audioUri,omitempty"`
	CaptionsText  string   `dynamodbav:"captions_text,omitempty" json:"captionsText,omitempty"`
	MusicURI      string   `dynamodbav:"music_uri,omitempty" json:"musicUri,omitempty"`

	// Presentation and render parameters
	PrimaryColor          string `dynamodbav:"primary_color,omitempty" json:"primaryColor,omitempty"`
	SecondaryColor        string `dynamodbav:"secondary_color,omitempty" json:"secondaryColor,omitempty"`
	FontFamily            string `dynamodbav:"font_family,omitempty" json:"fontFamily,omitempty"`
	ImageDurationInFrames int    `dynamodbav:"image_duration_frames,omitempty" json:"imageDurationInFrames,omitempty"`
	TotalDurationInFrames int    `dynamodbav:"total_duration_frames,omitempty" json:"totalDurationInFrames,omitempty"`

	// Lifecycle
	Status       VideoStatus `dynamodbav:"status" json:"status"`
	ErrorMessage string      `dynamodbav:"error_message,omitempty" json:"errorMessage,omitempty"`

	// Render outputs
	RenderID  string `dynamodbav:"render_id,omitempty" json:"renderId,omitempty"`
	RenderURL string `dynamodbav:"render_url,omitempty" json:"renderUrl,omitempty"`

	// Timestamps
	CreatedAt string `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt string `dynamodbav:"updated_at" json:"updatedAt"`
}

// AssetURIs returns every stored asset URL referenced by the record, used
// for cascade deletion.
func (r *VideoRecord) AssetURIs() []string {
	uris := make([]string, 0, len(r.ImageURIs)+2)
	uris = append(uris, r.ImageURIs...)
	if r.AudioURI != "" {
		uris = append(uris, r.AudioURI)
	}
	if r.MusicURI != "" {
		uris = append(uris, r.MusicURI)
	}
	return uris
}

// GenerationJob is a generation request dequeued from SQS by the worker.
type GenerationJob struct {
	RecordID         string       `json:"recordId"`
	OwnerID          string       `json:"ownerId"`
	Topic            string       `json:"topic"`
	Style            string       `json:"style,omitempty"`
	DurationCategory string       `json:"durationCategory,omitempty"`
	Variant          VideoVariant `json:"variant"`
	AvatarID         string       `json:"avatarId,omitempty"`
}

// Validate checks if the generation job has all required fields.
func (j *GenerationJob) Validate() error {
	if j.RecordID == "" {
		return ErrMissingRecordID
	}
	if j.OwnerID == "" {
		return ErrMissingOwnerID
	}
	if strings.TrimSpace(j.Topic) == "" {
		return ErrMissingTopic
	}
	if !j.Variant.IsValid() {
		return ErrInvalidVariant
	}
	if j.Variant == VariantAvatar && j.AvatarID == "" {
		return ErrMissingAvatarID
	}
	return nil
}
