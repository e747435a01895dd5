package models

import "errors"

// Sentinel errors for video generation and record operations.
var (
	// Validation errors
	ErrMissingRecordID = errors.New("recordId is required")
	ErrMissingOwnerID  = errors.New("ownerId is required")
	ErrMissingTopic    = errors.New("topic is required")
	ErrInvalidVariant  = errors.New("invalid video variant")
	ErrMissingAvatarID = errors.New("avatarId is required for avatar videos")

	// Script errors
	ErrScriptMissingTitle = errors.New("script has no title")
	ErrScriptNoScenes     = errors.New("script has no scenes")

	// Pipeline errors
	ErrJobParseFailed    = errors.New("failed to parse generation job")
	ErrScriptingFailed   = errors.New("script generation failed")
	ErrEmptySpeechText   = errors.New("speech text is empty")
	ErrVoicingFailed     = errors.New("speech synthesis failed")
	ErrImagingFailed     = errors.New("image generation failed")
	ErrUploadFailed      = errors.New("failed to upload generated assets")
	ErrAttemptInFlight   = errors.New("a generation attempt is already in flight for this owner")
	ErrContextCanceled   = errors.New("context canceled")

	// Avatar job errors
	ErrAvatarJobFailed  = errors.New("avatar video job failed")
	ErrAvatarJobTimeout = errors.New("avatar video job timed out")

	// Render errors
	ErrRenderFailed   = errors.New("render job failed")
	ErrRenderNoOutput = errors.New("render job completed without an output file")
	ErrRenderTimeout  = errors.New("render job polling exhausted")

	// Storage errors
	ErrVideoNotFound = errors.New("video not found")
	ErrInvalidStatus = errors.New("invalid video status")
)
