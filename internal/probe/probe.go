// Package probe determines the playable duration of synthesized audio by
// shelling out to ffprobe. Duration is not essential to have exact: a probe
// that fails or times out degrades to a default instead of failing the
// caller's attempt.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// Probe policy constants.
const (
	// DefaultTimeout bounds how long a single probe may take.
	DefaultTimeout = 5 * time.Second
	// FallbackDurationSeconds is assumed when the probe cannot determine
	// a duration within the timeout.
	FallbackDurationSeconds = 30.0
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Prober measures audio duration with ffprobe.
type Prober struct {
	ffprobePath string
	runner      Runner
	timeout     time.Duration
}

// New creates a Prober using the given ffprobe binary path.
func New(ffprobePath string, runner Runner) *Prober {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Prober{
		ffprobePath: ffprobePath,
		runner:      runner,
		timeout:     DefaultTimeout,
	}
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
}

// AudioDuration returns the playable duration in seconds of the audio file
// at path. On probe failure or timeout it returns
// FallbackDurationSeconds and false rather than an error.
func (p *Prober) AudioDuration(ctx context.Context, path string) (seconds float64, exact bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		return FallbackDurationSeconds, false
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(output, &probeData); err != nil {
		return FallbackDurationSeconds, false
	}

	if probeData.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil && duration > 0 {
			return duration, true
		}
	}

	// Fall back to the stream-level duration when the container omits it.
	for _, stream := range probeData.Streams {
		if stream.CodecType == "audio" && stream.Duration != "" {
			if duration, err := strconv.ParseFloat(stream.Duration, 64); err == nil && duration > 0 {
				return duration, true
			}
		}
	}

	return FallbackDurationSeconds, false
}

// AudioDurationFromBytes writes audio bytes to a temp file and probes it.
func (p *Prober) AudioDurationFromBytes(ctx context.Context, data []byte) (seconds float64, exact bool) {
	tmp, err := os.CreateTemp("", "vividverse-audio-*.mp3")
	if err != nil {
		return FallbackDurationSeconds, false
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return FallbackDurationSeconds, false
	}
	if err := tmp.Close(); err != nil {
		return FallbackDurationSeconds, false
	}

	return p.AudioDuration(ctx, tmp.Name())
}

// String describes the prober for logs.
func (p *Prober) String() string {
	return fmt.Sprintf("ffprobe(%s, timeout=%s)", p.ffprobePath, p.timeout)
}
