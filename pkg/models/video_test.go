package models

import (
	"errors"
	"testing"
)

func TestVideoStatus_IsValid(t *testing.T) {
	tests := []struct {
		status VideoStatus
		want   bool
	}{
		{StatusPending, true},
		{StatusProcessing, true},
		{StatusCompleted, true},
		{StatusFailed, true},
		{VideoStatus("archived"), false},
		{VideoStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVideoStatus_IsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("pending/processing should not be terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("completed/failed should be terminal")
	}
}

func TestVideoVariant_IsValid(t *testing.T) {
	if !VariantMultiScene.IsValid() || !VariantAvatar.IsValid() {
		t.Error("known variants should be valid")
	}
	if VideoVariant("slideshow").IsValid() {
		t.Error("unknown variant should be invalid")
	}
}

func TestScript_Validate(t *testing.T) {
	tests := []struct {
		name    string
		script  Script
		wantErr error
	}{
		{
			name: "valid",
			script: Script{
				Title: "Ocean Facts",
				Scenes: []Scene{
					{ContentText: "The ocean is deep.", ImagePrompt: "deep blue ocean"},
				},
			},
			wantErr: nil,
		},
		{
			name: "missing title",
			script: Script{
				Scenes: []Scene{{ContentText: "text", ImagePrompt: "prompt"}},
			},
			wantErr: ErrScriptMissingTitle,
		},
		{
			name:    "no scenes",
			script:  Script{Title: "Empty"},
			wantErr: ErrScriptNoScenes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.script.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestScript_FullText(t *testing.T) {
	script := Script{
		Title: "Test",
		Scenes: []Scene{
			{ContentText: "First sentence."},
			{ContentText: "  Second sentence.  "},
			{ContentText: ""},
			{ContentText: "Third."},
		},
	}

	want := "First sentence. Second sentence. Third."
	if got := script.FullText(); got != want {
		t.Errorf("FullText() = %q, want %q", got, want)
	}
}

func TestScript_ImagePrompts(t *testing.T) {
	script := Script{
		Title: "Test",
		Scenes: []Scene{
			{ImagePrompt: "a"},
			{ImagePrompt: "b"},
		},
	}

	prompts := script.ImagePrompts()
	if len(prompts) != 2 || prompts[0] != "a" || prompts[1] != "b" {
		t.Errorf("ImagePrompts() = %v", prompts)
	}
}

func TestGenerationJob_Validate(t *testing.T) {
	valid := GenerationJob{
		RecordID: "rec-1",
		OwnerID:  "user-1",
		Topic:    "space travel",
		Variant:  VariantMultiScene,
	}

	tests := []struct {
		name    string
		mutate  func(j *GenerationJob)
		wantErr error
	}{
		{"valid multi-scene", func(j *GenerationJob) {}, nil},
		{"missing record id", func(j *GenerationJob) { j.RecordID = "" }, ErrMissingRecordID},
		{"missing owner id", func(j *GenerationJob) { j.OwnerID = "" }, ErrMissingOwnerID},
		{"missing topic", func(j *GenerationJob) { j.Topic = "" }, ErrMissingTopic},
		{"invalid variant", func(j *GenerationJob) { j.Variant = "slideshow" }, ErrInvalidVariant},
		{"avatar without avatar id", func(j *GenerationJob) { j.Variant = VariantAvatar }, ErrMissingAvatarID},
		{"avatar with avatar id", func(j *GenerationJob) {
			j.Variant = VariantAvatar
			j.AvatarID = "avatar-7"
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid
			tt.mutate(&job)
			err := job.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVideoRecord_AssetURIs(t *testing.T) {
	record := VideoRecord{
		AudioURI:  "https://cdn.example.com/u/r/audio",
		ImageURIs: []string{"https://cdn.example.com/u/r/image_0", "https://cdn.example.com/u/r/image_1"},
		MusicURI:  "https://cdn.example.com/u/r/music",
	}

	uris := record.AssetURIs()
	if len(uris) != 4 {
		t.Fatalf("AssetURIs() returned %d uris, want 4", len(uris))
	}

	empty := VideoRecord{}
	if got := empty.AssetURIs(); len(got) != 0 {
		t.Errorf("AssetURIs() on empty record = %v, want none", got)
	}
}
