package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"streamcast/internal/config"
)

// Requirement defines an external binary streamcast shells out to.
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

// ForConfig returns the external binaries the configured pipeline needs.
// The encoder binary is required; the asset probe binary is optional
// because remote asset fetching degrades to placeholder rendering.
func ForConfig(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "Encoder",
			Command:     cfg.Stream.FFmpegBinary,
			Description: "Consumes raw frames and pushes the output stream",
		},
	}
	if cfg.Assets.FFmpegBinary != cfg.Stream.FFmpegBinary {
		reqs = append(reqs, Requirement{
			Name:        "Asset probe",
			Command:     cfg.Assets.FFmpegBinary,
			Description: "Decodes remote media assets for the cache",
			Optional:    true,
		})
	}
	return reqs
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
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
