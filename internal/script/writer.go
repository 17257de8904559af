package script

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/services/llm"
	"reelsmith/internal/stage"
)

// promptVersion is folded into artifact keys; bump it when SystemPrompt or
// the user prompt layout changes.
const promptVersion = "1"

// completer abstracts the LLM JSON-completion call for testability.
type completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Writer is the script stage adapter.
type Writer struct {
	client         completer
	templates      Templates
	model          string
	temperature    float64
	wordsPerSecond float64
	targetSeconds  float64
	language       string
	logger         *slog.Logger
}

// NewWriter builds a Writer around an arbitrary completer.
func NewWriter(cfg *config.Config, client completer, templates Templates, logger *slog.Logger) *Writer {
	if templates == nil {
		templates = BuiltinTemplates()
	}
	return &Writer{
		client:         client,
		templates:      templates,
		model:          cfg.Script.Model,
		temperature:    cfg.Script.Temperature,
		wordsPerSecond: cfg.Script.WordsPerSecond,
		targetSeconds:  cfg.Script.TargetDurationSeconds,
		language:       cfg.Script.Language,
		logger:         logging.NewComponentLogger(logger, "script"),
	}
}

// NewFromConfig wires the OpenRouter client and the configured templates.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Writer, error) {
	templates, err := LoadTemplates(cfg.Script.TemplatesPath)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stage.NameScript, "load templates", "", err)
	}
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.Script.APIKey,
		BaseURL:        cfg.Script.BaseURL,
		Model:          cfg.Script.Model,
		Referer:        cfg.Script.Referer,
		Title:          cfg.Script.Title,
		Temperature:    cfg.Script.Temperature,
		TimeoutSeconds: cfg.Script.TimeoutSeconds,
	})
	return NewWriter(cfg, client, templates, logger), nil
}

// Templates exposes the loaded style templates.
func (w *Writer) Templates() Templates { return w.templates }

// Profile implements stage.ScriptWriter.
func (w *Writer) Profile() stage.Profile {
	return stage.Profile{
		"model":            w.model,
		"temperature":      strconv.FormatFloat(w.temperature, 'f', -1, 64),
		"words_per_second": strconv.FormatFloat(w.wordsPerSecond, 'f', -1, 64),
		"templates":        w.templates.Digest(),
		"prompt":           promptVersion,
	}
}

// HealthCheck pings the language model.
func (w *Writer) HealthCheck(ctx context.Context) stage.Health {
	checker, ok := w.client.(interface{ HealthCheck(context.Context) error })
	if !ok {
		return stage.Healthy(stage.NameScript)
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stage.NameScript, err.Error())
	}
	return stage.Healthy(stage.NameScript)
}

type scriptResponse struct {
	Title    string `json:"title"`
	Segments []struct {
		Section          string  `json:"section"`
		Text             string  `json:"text"`
		EstimatedSeconds float64 `json:"estimated_seconds"`
		Visual           string  `json:"visual"`
	} `json:"segments"`
}

// WriteScript implements stage.ScriptWriter.
func (w *Writer) WriteScript(ctx context.Context, req stage.ScriptRequest) (stage.Script, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return stage.Script{}, services.Wrap(services.ErrFatalInput, stage.NameScript, "validate request", "topic is required", nil)
	}
	target := req.TargetSeconds
	if target <= 0 {
		target = w.targetSeconds
	}
	lang := firstNonEmpty(req.Language, w.language)
	style, tmpl := w.templates.Lookup(req.Style)
	sections := ScaleSections(tmpl.Sections, target)

	logger := logging.WithContext(ctx, w.logger)
	logger.Debug("requesting script",
		logging.String("style", style),
		logging.Float64("target_seconds", target),
		logging.Int("sections", len(sections)),
	)

	content, err := w.client.CompleteJSON(ctx, SystemPrompt, buildUserPrompt(topic, lang, tmpl, sections, w.wordsPerSecond))
	if err != nil {
		return stage.Script{}, err
	}
	var resp scriptResponse
	if err := llm.DecodeLLMJSON(content, &resp); err != nil {
		return stage.Script{}, services.Wrap(services.ErrFatalInput, stage.NameScript, "decode", "script response is not valid JSON", err)
	}

	script := w.assemble(topic, style, lang, resp, sections)
	if err := Validate(script); err != nil {
		return stage.Script{}, err
	}
	logger.Info("script written",
		logging.String("title", script.Title),
		logging.Int("segments", len(script.Segments)),
		logging.Float64("estimated_seconds", script.EstimatedSeconds()),
	)
	return script, nil
}

func (w *Writer) assemble(topic, style, lang string, resp scriptResponse, sections []Section) stage.Script {
	category := DetectCategory(topic)
	script := stage.Script{
		Topic:    topic,
		Title:    titleCase(firstNonEmpty(resp.Title, topic), lang),
		Style:    style,
		Segments: make([]stage.Segment, 0, len(resp.Segments)),
	}
	for i, raw := range resp.Segments {
		var planned Section
		if i < len(sections) {
			planned = sections[i]
		}
		section := firstNonEmpty(raw.Section, planned.Type)
		script.Segments = append(script.Segments, stage.Segment{
			Index:            i,
			Section:          section,
			Text:             CleanText(raw.Text, planned.Seconds, w.wordsPerSecond),
			EstimatedSeconds: raw.EstimatedSeconds,
			Visual:           firstNonEmpty(raw.Visual, VisualPrompt(topic, section, category)),
		})
	}
	return script
}

// Validate enforces the shape every downstream stage relies on.
func Validate(script stage.Script) error {
	if len(script.Segments) == 0 {
		return services.Wrap(services.ErrContractViolation, stage.NameScript, "validate", "script has no segments", nil)
	}
	for i, seg := range script.Segments {
		if seg.Index != i {
			return services.Wrap(services.ErrContractViolation, stage.NameScript, "validate",
				fmt.Sprintf("segment %d has index %d", i, seg.Index), nil)
		}
		if strings.TrimSpace(seg.Text) == "" {
			return services.Wrap(services.ErrContractViolation, stage.NameScript, "validate",
				fmt.Sprintf("segment %d has no narration", i), nil)
		}
		if seg.EstimatedSeconds <= 0 || math.IsNaN(seg.EstimatedSeconds) || math.IsInf(seg.EstimatedSeconds, 0) {
			return services.Wrap(services.ErrContractViolation, stage.NameScript, "validate",
				fmt.Sprintf("segment %d has invalid estimate %v", i, seg.EstimatedSeconds), nil)
		}
	}
	return nil
}

func titleCase(value, lang string) string {
	tag := language.English
	if lang != "" {
		if parsed, err := language.Parse(lang); err == nil {
			tag = parsed
		}
	}
	return cases.Title(tag).String(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
