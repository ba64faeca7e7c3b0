// Package deps checks the external binaries media transcription shells out to.
package deps

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"gleaner/internal/config"
)

// Requirement defines an external binary gleaner relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// TranscriptionRequirements lists the binaries the upload step needs for
// audio and video sources. Nothing is required while transcription is off.
func TranscriptionRequirements(cfg *config.Config, ffmpeg, uvx string) []Requirement {
	if cfg == nil || !cfg.Transcription.Enabled {
		return nil
	}
	return []Requirement{
		{Name: "FFmpeg", Command: ffmpeg, Description: "extracts audio from media uploads"},
		{Name: "uvx", Command: uvx, Description: "runs WhisperX transcription"},
	}
}

// Probe reports missing required binaries through HealthCheck.
type Probe struct {
	Requirements []Requirement
}

// HealthCheck fails when any non-optional requirement is unavailable.
func (p Probe) HealthCheck(context.Context) error {
	var missing []string
	for _, status := range CheckBinaries(p.Requirements) {
		if !status.Available && !status.Optional {
			missing = append(missing, status.Detail)
		}
	}
	if len(missing) > 0 {
		return errors.New(strings.Join(missing, "; "))
	}
	return nil
}
