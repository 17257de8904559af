package imagery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"strconv"
	"strings"
	"sync"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/services/replicate"
	"reelsmith/internal/stage"
)

type predictor interface {
	Generate(ctx context.Context, input replicate.Input) ([]replicate.Image, error)
}

// Generator is the image stage adapter.
type Generator struct {
	client         predictor
	model          string
	width          int
	height         int
	steps          int
	guidance       float64
	negativePrompt string
	maxSeconds     float64
	maxImages      int
	logger         *slog.Logger

	// done holds predictions from requests that have not finished yet, so a
	// retried request only pays for the images it is still missing.
	mu   sync.Mutex
	done map[replicate.Input]replicate.Image
}

// NewGenerator wraps a prediction client.
func NewGenerator(cfg *config.Config, client predictor, logger *slog.Logger) *Generator {
	return &Generator{
		client:         client,
		model:          cfg.Images.Model,
		width:          cfg.Images.Width,
		height:         cfg.Images.Height,
		steps:          cfg.Images.Steps,
		guidance:       cfg.Images.GuidanceScale,
		negativePrompt: cfg.Images.NegativePrompt,
		maxSeconds:     cfg.Images.MaxSecondsPerImage,
		maxImages:      cfg.Images.MaxImagesPerSegment,
		logger:         logging.NewComponentLogger(logger, "imagery"),
		done:           make(map[replicate.Input]replicate.Image),
	}
}

// NewFromConfig wires the Replicate client.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Generator {
	client := replicate.NewClient(replicate.Config{
		APIToken:       cfg.Images.APIKey,
		BaseURL:        cfg.Images.BaseURL,
		Model:          cfg.Images.Model,
		TimeoutSeconds: cfg.Images.TimeoutSeconds,
	})
	return NewGenerator(cfg, client, logger)
}

// Profile implements stage.ImageGenerator.
func (g *Generator) Profile() stage.Profile {
	return stage.Profile{
		"model":           g.model,
		"size":            fmt.Sprintf("%dx%d", g.width, g.height),
		"steps":           strconv.Itoa(g.steps),
		"guidance_scale":  strconv.FormatFloat(g.guidance, 'f', -1, 64),
		"negative_prompt": g.negativePrompt,
	}
}

// ImageCount is ceil(actual / max_seconds_per_image) clamped to
// [1, max_images_per_segment].
func (g *Generator) ImageCount(actualSeconds float64) int {
	return ImageCount(actualSeconds, g.maxSeconds, g.maxImages)
}

// ImageCount is the pure form of Generator.ImageCount.
func ImageCount(actualSeconds, maxSecondsPerImage float64, maxImages int) int {
	if maxImages < 1 {
		maxImages = 1
	}
	if actualSeconds <= 0 || maxSecondsPerImage <= 0 || math.IsNaN(actualSeconds) {
		return 1
	}
	n := int(math.Ceil(actualSeconds/maxSecondsPerImage - 1e-9))
	return min(max(n, 1), maxImages)
}

// Generate implements stage.ImageGenerator. Each image is a separate
// prediction so every still gets its own variant prompt.
func (g *Generator) Generate(ctx context.Context, req stage.ImageRequest) ([]stage.ImageAsset, error) {
	count := req.Count
	if count < 1 {
		count = g.ImageCount(req.TargetSeconds)
	}
	if strings.TrimSpace(req.Visual) == "" && strings.TrimSpace(req.Text) == "" {
		return nil, services.Wrap(services.ErrFatalInput, stage.NameImage, "prompt", "segment has no text to illustrate", nil)
	}

	logger := logging.WithContext(ctx, g.logger)
	assets := make([]stage.ImageAsset, 0, count)
	inputs := make([]replicate.Input, 0, count)
	reused := 0
	for ordinal := 0; ordinal < count; ordinal++ {
		input := replicate.Input{
			Prompt:            scenePrompt(req.Visual, req.Text, ordinal, count),
			NegativePrompt:    g.negativePrompt,
			Width:             g.width,
			Height:            g.height,
			NumOutputs:        1,
			NumInferenceSteps: g.steps,
			GuidanceScale:     g.guidance,
		}
		inputs = append(inputs, input)
		image, ok := g.finished(input)
		if ok {
			reused++
		} else {
			images, err := g.client.Generate(ctx, input)
			if err != nil {
				return nil, err
			}
			if len(images) == 0 || len(images[0].Data) == 0 {
				return nil, services.Wrap(services.ErrTransient, stage.NameImage, "generate",
					fmt.Sprintf("prediction %d returned no image", ordinal), nil)
			}
			image = images[0]
			g.remember(input, image)
		}
		assets = append(assets, stage.ImageAsset{
			SegmentIndex: req.SegmentIndex,
			Ordinal:      ordinal,
			Format:       imageFormat(image),
			Data:         image.Data,
		})
	}
	g.forget(inputs)
	logger.Debug("segment illustrated",
		logging.Int("images", len(assets)),
		logging.Float64("target_seconds", req.TargetSeconds),
		logging.Int("reused", reused),
	)
	return assets, nil
}

func (g *Generator) finished(input replicate.Input) (replicate.Image, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	image, ok := g.done[input]
	return image, ok
}

func (g *Generator) remember(input replicate.Input, image replicate.Image) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done[input] = image
}

// forget drops predictions once the request they belong to is complete; the
// artifact store owns them from then on.
func (g *Generator) forget(inputs []replicate.Input) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, input := range inputs {
		delete(g.done, input)
	}
}

func imageFormat(img replicate.Image) string {
	if mediaType, _, err := mime.ParseMediaType(img.ContentType); err == nil {
		switch mediaType {
		case "image/png":
			return "png"
		case "image/jpeg":
			return "jpg"
		case "image/webp":
			return "webp"
		}
	}
	lower := strings.ToLower(img.SourceURL)
	for _, ext := range []string{"png", "jpg", "jpeg", "webp"} {
		if strings.HasSuffix(lower, "."+ext) {
			if ext == "jpeg" {
				return "jpg"
			}
			return ext
		}
	}
	return "png"
}
