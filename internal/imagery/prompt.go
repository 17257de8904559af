package imagery

import "strings"

const qualityTerms = "high quality, detailed, professional photography, well lit, clear"

const cookingTerms = "kitchen setting, food photography, cooking tutorial style"

var foodKeywords = []string{"cook", "cooking", "recipe", "food", "ingredient", "ingredients", "kitchen", "bake", "baking", "meal"}

// EnhancePrompt appends quality terms, plus food styling when the prompt is
// about cooking.
func EnhancePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if isFood(prompt) {
		return prompt + ", " + cookingTerms + ", " + qualityTerms
	}
	return prompt + ", " + qualityTerms
}

func isFood(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return r < 'a' || r > 'z'
	}) {
		for _, kw := range foodKeywords {
			if word == kw {
				return true
			}
		}
	}
	return false
}

// scenePrompt picks the richest description available for a segment and
// suffixes the variant for multi-image segments so each still differs.
func scenePrompt(visual, text string, ordinal, count int) string {
	base := strings.TrimSpace(visual)
	if base == "" {
		base = strings.TrimSpace(text)
	}
	if count > 1 {
		switch {
		case ordinal == 0:
			base += ", opening shot"
		case ordinal == count-1:
			base += ", closing shot"
		default:
			base += ", close-up detail"
		}
	}
	return EnhancePrompt(base)
}
