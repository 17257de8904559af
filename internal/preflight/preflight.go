package preflight

import (
	"context"

	"reelsmith/internal/config"
)

// Result reports the outcome of a single preflight check. Optional failures
// are reported but never block a run.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes the local checks for cfg: directories, free space,
// rendering binaries, and credentials. Live service probes are left to the
// caller because they cost a network round trip.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckFreeSpace("Output free space", cfg.Paths.OutputDir, MinFreeBytes),
	}
	results = append(results, CheckBinaries(ctx, []Requirement{
		{Name: "FFmpeg", Command: cfg.Render.FFmpegBinary, Description: "Required for video assembly"},
		{Name: "FFprobe", Command: cfg.Render.FFprobeBinary, Description: "Required for clip and output inspection"},
	})...)
	results = append(results,
		CheckCredential("Script API key", cfg.Script.APIKey, "OPENROUTER_API_KEY"),
		CheckCredential("Voice API key", cfg.Voice.APIKey, "ELEVENLABS_API_KEY"),
		CheckCredential("Images API key", cfg.Images.APIKey, "REPLICATE_API_TOKEN"),
	)
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
