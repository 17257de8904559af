package script

import (
	"fmt"
	"strings"
)

// Topic categories used to flavour visual prompts.
const (
	CategoryProgramming = "programming"
	CategoryDesign      = "design"
	CategoryBusiness    = "business"
	CategoryGeneral     = "general"
)

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryProgramming, []string{"code", "coding", "programming", "software", "developer", "python", "javascript", "api", "function"}},
	{CategoryDesign, []string{"design", "ui", "ux", "graphic", "typography", "figma", "photoshop", "layout"}},
	{CategoryBusiness, []string{"business", "company", "marketing", "sales", "startup", "seo", "e-commerce", "customers"}},
}

var categoryStyles = map[string]string{
	CategoryProgramming: ", with code and technology elements",
	CategoryDesign:      ", with graphic and creative elements",
	CategoryBusiness:    ", with professional corporate elements",
	CategoryGeneral:     ", clean and professional style",
}

// DetectCategory classifies a topic by keyword. Matching is on whole words.
func DetectCategory(topic string) string {
	words := strings.FieldsFunc(strings.ToLower(topic), func(r rune) bool {
		return !(r == '-' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[w] = true
	}
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if seen[kw] {
				return entry.category
			}
		}
	}
	return CategoryGeneral
}

// VisualPrompt describes the image that should accompany a section.
func VisualPrompt(topic, section, category string) string {
	var base string
	switch section {
	case "hook":
		base = fmt.Sprintf("Eye-catching image about %s, vibrant colors, modern style", topic)
	case "intro", "overview":
		base = fmt.Sprintf("Professional image about %s, clean and clear", topic)
	case "main_content":
		base = fmt.Sprintf("Diagram or infographic explaining %s, educational style", topic)
	case "example":
		base = fmt.Sprintf("Practical visual example of %s, realistic and detailed", topic)
	case "recap", "conclusion":
		base = fmt.Sprintf("Visual summary of the key ideas of %s, organized", topic)
	case "tips", "best_practices":
		base = fmt.Sprintf("Helpful checklist style illustration about %s", topic)
	case "call_to_action", "outro":
		base = fmt.Sprintf("Motivational image related to %s, inspiring", topic)
	default:
		base = fmt.Sprintf("Image about %s", topic)
	}
	style, ok := categoryStyles[category]
	if !ok {
		style = categoryStyles[CategoryGeneral]
	}
	return base + style
}
