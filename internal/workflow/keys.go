package workflow

import (
	"math"

	"reelsmith/internal/artifact"
	"reelsmith/internal/stage"
)

// Voice and image keys are content addressed and leave the segment index out,
// so identical narration in two segments shares one generation.

type scriptParams struct {
	Request stage.ScriptRequest `json:"request"`
	Profile stage.Profile       `json:"profile"`
}

type voiceParams struct {
	Text    string        `json:"text"`
	VoiceID string        `json:"voice_id"`
	Profile stage.Profile `json:"profile"`
}

type imageParams struct {
	Text     string        `json:"text"`
	Visual   string        `json:"visual"`
	TargetMS int64         `json:"target_ms"`
	Count    int           `json:"count"`
	Profile  stage.Profile `json:"profile"`
}

type runParams struct {
	Request stage.ScriptRequest `json:"request"`
	Script  stage.Profile       `json:"script"`
	Voice   stage.Profile       `json:"voice"`
	Images  stage.Profile       `json:"images"`
}

const stageRun = "run"

func scriptKey(req stage.ScriptRequest, profile stage.Profile) (artifact.Key, error) {
	return artifact.Fingerprint(stage.NameScript, scriptParams{Request: req, Profile: profile})
}

func voiceKey(req stage.VoiceRequest, profile stage.Profile) (artifact.Key, error) {
	return artifact.Fingerprint(stage.NameVoice, voiceParams{Text: req.Text, VoiceID: req.VoiceID, Profile: profile})
}

func imageKey(req stage.ImageRequest, profile stage.Profile) (artifact.Key, error) {
	return artifact.Fingerprint(stage.NameImage, imageParams{
		Text:     req.Text,
		Visual:   req.Visual,
		TargetMS: int64(math.Round(req.TargetSeconds * 1000)),
		Count:    req.Count,
		Profile:  profile,
	})
}

// runKey identifies a topic under one configuration. Persisted RunState lives
// under it so a rerun can find what the last attempt got through.
func runKey(req stage.ScriptRequest, stages Stages) (artifact.Key, error) {
	return artifact.Fingerprint(stageRun, runParams{
		Request: req,
		Script:  stages.Script.Profile(),
		Voice:   stages.Voice.Profile(),
		Images:  stages.Images.Profile(),
	})
}
