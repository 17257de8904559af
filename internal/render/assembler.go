package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"reelsmith/internal/config"
	"reelsmith/internal/fileutil"
	"reelsmith/internal/logging"
	"reelsmith/internal/media/ffprobe"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/textutil"
	"reelsmith/internal/timeline"
)

// durationTolerance is how far the rendered duration may stray from the
// timeline total before the output is rejected.
const durationTolerance = 0.5

// Request describes one render.
type Request struct {
	RunID    string
	Title    string
	Topic    string
	Timeline timeline.Timeline
}

// Assembler renders timelines with ffmpeg.
type Assembler struct {
	ffmpeg       string
	ffprobe      string
	fps          int
	width        int
	height       int
	crf          int
	preset       string
	titleSeconds float64
	burnCaptions bool
	fontFile     string
	outputDir    string
	workRoot     string
	exec         Executor
	probe        ffprobe.Runner
	logger       *slog.Logger
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithExecutor replaces the ffmpeg executor.
func WithExecutor(exec Executor) Option {
	return func(a *Assembler) {
		if exec != nil {
			a.exec = exec
		}
	}
}

// WithProbeRunner replaces the ffprobe runner used to verify output.
func WithProbeRunner(run ffprobe.Runner) Option {
	return func(a *Assembler) {
		if run != nil {
			a.probe = run
		}
	}
}

// NewAssembler builds an assembler from the render and path settings.
func NewAssembler(cfg *config.Config, logger *slog.Logger, opts ...Option) *Assembler {
	a := &Assembler{
		ffmpeg:       firstNonEmpty(cfg.Render.FFmpegBinary, "ffmpeg"),
		ffprobe:      firstNonEmpty(cfg.Render.FFprobeBinary, "ffprobe"),
		fps:          cfg.Render.FPS,
		width:        cfg.Render.Width,
		height:       cfg.Render.Height,
		crf:          cfg.Render.CRF,
		preset:       cfg.Render.Preset,
		titleSeconds: cfg.Render.TitleSeconds,
		burnCaptions: cfg.Render.BurnCaptions,
		fontFile:     cfg.Render.FontFile,
		outputDir:    cfg.Paths.OutputDir,
		workRoot:     filepath.Join(cfg.Paths.StateDir, "render"),
		exec:         commandExecutor{},
		probe:        ffprobe.ExecRunner,
		logger:       logging.NewComponentLogger(logger, "render"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func renderErr(op, message string, err error) error {
	return services.Wrap(services.ErrRendering, stage.NameAssembly, op, message, err)
}

func resourceErr(op, message string, err error) error {
	return services.Wrap(services.ErrResource, stage.NameAssembly, op, message, err)
}

// Render produces the final mp4 and returns its path in the output directory.
func (a *Assembler) Render(ctx context.Context, req Request) (string, error) {
	if err := req.Timeline.Check(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.workRoot, 0o755); err != nil {
		return "", resourceErr("prepare", "create render directory", err)
	}
	workDir, err := os.MkdirTemp(a.workRoot, "run-"+textutil.SanitizeFileName(shortID(req.RunID))+"-")
	if err != nil {
		return "", resourceErr("prepare", "create scratch directory", err)
	}
	defer os.RemoveAll(workDir)

	logger := logging.WithContext(ctx, a.logger)
	job, err := materialize(workDir, req.Timeline)
	if err != nil {
		return "", err
	}

	narration := filepath.Join(workDir, "narration.m4a")
	if _, err := a.exec.Run(ctx, a.ffmpeg, a.narrationArgs(job.audioList, narration)); err != nil {
		return "", renderErr("narration", "concatenate narration clips", err)
	}

	var captions, titleFile string
	if a.burnCaptions {
		captions = filepath.Join(workDir, "captions.srt")
		if err := os.WriteFile(captions, []byte(req.Timeline.Captions()), 0o644); err != nil {
			return "", resourceErr("captions", "write captions", err)
		}
	}
	if title := strings.TrimSpace(req.Title); title != "" && a.titleSeconds > 0 {
		titleFile = filepath.Join(workDir, "title.txt")
		if err := os.WriteFile(titleFile, []byte(title), 0o644); err != nil {
			return "", resourceErr("title", "write title", err)
		}
	}

	video := filepath.Join(workDir, "video.mp4")
	args := a.videoArgs(job.imageList, narration, video, a.filterGraph(captions, titleFile))
	logger.Info("rendering video",
		logging.Int("placements", len(req.Timeline.Placements)),
		logging.Float64("total_seconds", req.Timeline.TotalSeconds),
		logging.String("command", a.ffmpeg+" "+strings.Join(args, " ")),
	)
	if _, err := a.exec.Run(ctx, a.ffmpeg, args); err != nil {
		return "", renderErr("encode", "encode video", err)
	}
	if err := a.verify(ctx, video, req.Timeline.TotalSeconds); err != nil {
		return "", err
	}

	target, err := a.outputPath(req)
	if err != nil {
		return "", err
	}
	if err := fileutil.MoveFile(video, target); err != nil {
		return "", resourceErr("publish", "move video to output directory", err)
	}
	logger.Info("video rendered", logging.String("output", target))
	return target, nil
}

type job struct {
	audioList string
	imageList string
}

// materialize writes every clip and image plus the two concat lists.
func materialize(dir string, tl timeline.Timeline) (job, error) {
	var audio strings.Builder
	for _, span := range tl.Spans {
		name := filepath.Join(dir, fmt.Sprintf("clip-%03d.%s", span.SegmentIndex, ext(span.Clip.Format, "mp3")))
		if err := os.WriteFile(name, span.Clip.Data, 0o644); err != nil {
			return job{}, resourceErr("materialize", "write narration clip", err)
		}
		fmt.Fprintf(&audio, "file %s\n", concatQuote(name))
	}

	var images strings.Builder
	written := make(map[string]bool)
	var last string
	for _, p := range tl.Placements {
		name := filepath.Join(dir, fmt.Sprintf("image-%03d-%02d.%s", p.SegmentIndex, p.Ordinal, ext(p.Image.Format, "png")))
		if !written[name] {
			if err := os.WriteFile(name, p.Image.Data, 0o644); err != nil {
				return job{}, resourceErr("materialize", "write image", err)
			}
			written[name] = true
		}
		fmt.Fprintf(&images, "file %s\nduration %s\n", concatQuote(name), formatSeconds(p.DurationSeconds))
		last = name
	}
	// The concat demuxer ignores the final duration unless the last file repeats.
	fmt.Fprintf(&images, "file %s\n", concatQuote(last))

	j := job{
		audioList: filepath.Join(dir, "narration.txt"),
		imageList: filepath.Join(dir, "images.txt"),
	}
	if err := os.WriteFile(j.audioList, []byte(audio.String()), 0o644); err != nil {
		return job{}, resourceErr("materialize", "write narration list", err)
	}
	if err := os.WriteFile(j.imageList, []byte(images.String()), 0o644); err != nil {
		return job{}, resourceErr("materialize", "write image list", err)
	}
	return j, nil
}

func (a *Assembler) narrationArgs(list, output string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", list,
		"-c:a", "aac", "-b:a", "192k",
		output,
	}
}

func (a *Assembler) videoArgs(imageList, narration, output, filter string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", imageList,
		"-i", narration,
		"-vf", filter,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "libx264", "-preset", firstNonEmpty(a.preset, "medium"), "-crf", strconv.Itoa(a.crf),
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-shortest",
		"-movflags", "+faststart",
		output,
	}
}

func (a *Assembler) filterGraph(captions, titleFile string) string {
	filters := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", a.width, a.height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", a.width, a.height),
		"setsar=1",
		fmt.Sprintf("fps=%d", a.fps),
	}
	if captions != "" {
		filters = append(filters, "subtitles="+filterQuote(captions))
	}
	if titleFile != "" {
		draw := []string{
			"textfile=" + filterQuote(titleFile),
			"fontcolor=white",
			"fontsize=h/14",
			"box=1",
			"boxcolor=black@0.55",
			"boxborderw=24",
			"x=(w-text_w)/2",
			"y=h/8",
			fmt.Sprintf("enable='between(t,0,%s)'", formatSeconds(a.titleSeconds)),
		}
		if a.fontFile != "" {
			draw = append([]string{"fontfile=" + filterQuote(a.fontFile)}, draw...)
		}
		filters = append(filters, "drawtext="+strings.Join(draw, ":"))
	}
	return strings.Join(filters, ",")
}

func (a *Assembler) verify(ctx context.Context, path string, want float64) error {
	result, err := ffprobe.InspectWith(ctx, a.probe, a.ffprobe, path)
	if err != nil {
		return renderErr("verify", "probe rendered video", err)
	}
	if result.StreamCount("video") == 0 || result.StreamCount("audio") == 0 {
		return renderErr("verify", "rendered video is missing a stream", nil)
	}
	got, err := result.PositiveDuration()
	if err != nil {
		return renderErr("verify", "rendered video has no duration", err)
	}
	if math.Abs(got-want) > durationTolerance {
		return renderErr("verify", fmt.Sprintf("rendered duration %.3fs differs from timeline %.3fs", got, want), nil)
	}
	return nil
}

// outputPath picks <output_dir>/<slug>.mp4, adding the run id when a file of
// that name already exists.
func (a *Assembler) outputPath(req Request) (string, error) {
	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return "", resourceErr("publish", "create output directory", err)
	}
	base := textutil.Slug(firstNonEmpty(req.Topic, req.Title))
	target := filepath.Join(a.outputDir, base+".mp4")
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return target, nil
	}
	return filepath.Join(a.outputDir, fmt.Sprintf("%s-%s.mp4", base, shortID(req.RunID))), nil
}

func concatQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

func filterQuote(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `,`, `\,`)
	return r.Replace(path)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func ext(format, fallback string) string {
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" {
		return fallback
	}
	return textutil.SanitizeFileName(format)
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "run"
	}
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
