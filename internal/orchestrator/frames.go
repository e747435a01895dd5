package orchestrator

import (
	"math"
	"strings"
)

// Duration arithmetic constants. All frame math assumes a fixed 30fps
// timeline.
const (
	FramesPerSecond = 30

	// DefaultAudioDurationSeconds is assumed when the audio probe cannot
	// determine a duration.
	DefaultAudioDurationSeconds = 30.0

	// MinSceneDurationFrames floors per-scene display time at one second.
	MinSceneDurationFrames = 30
)

// Target seconds per scene for the scripting prompt. Named duration
// categories shift it; anything else gets the default.
const (
	DefaultSceneSeconds = 5
	ShortSceneSeconds   = 3
	LongSceneSeconds    = 8
)

// SceneDurationHint maps a record's duration category to a per-scene
// length hint in seconds.
func SceneDurationHint(category string) int {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "short":
		return ShortSceneSeconds
	case "long":
		return LongSceneSeconds
	default:
		return DefaultSceneSeconds
	}
}

// TotalDurationInFrames converts audio length to frames, rounding up.
func TotalDurationInFrames(audioSeconds float64) int {
	return int(math.Ceil(audioSeconds * FramesPerSecond))
}

// SceneDurationInFrames divides the timeline evenly across scenes, rounding
// up and flooring at MinSceneDurationFrames.
func SceneDurationInFrames(totalFrames, sceneCount int) int {
	if sceneCount <= 0 {
		return MinSceneDurationFrames
	}
	perScene := (totalFrames + sceneCount - 1) / sceneCount
	if perScene < MinSceneDurationFrames {
		return MinSceneDurationFrames
	}
	return perScene
}
