package backend

import (
	"fmt"
	"strings"
)

var languageNames = map[string]string{
	"en": "English",
	"zh": "Simplified Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"fr": "French",
	"es": "Spanish",
	"de": "German",
	"ru": "Russian",
	"pt": "Portuguese",
}

// LanguageName returns the English name for a language code, or the code.
func LanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// BuildPrompt returns the system and user messages for a batch request.
func BuildPrompt(req Request) (system, user string) {
	source := LanguageName(req.SourceLang)
	target := LanguageName(req.TargetLang)
	n := req.Segments
	if n <= 0 {
		n = 1
	}

	system = fmt.Sprintf("You are a professional literary translator. Translate %s text into natural, fluent %s while keeping the original tone and meaning.", source, target)

	user = fmt.Sprintf(`Translate the following text from %s to %s.

The text contains %d segment(s) separated by blank lines.
Rules:
1. Return exactly %d translated segment(s) in the same order, separated by one blank line.
2. Do not merge, split, number or label segments.
3. Return only the translation. No explanations, notes, or commentary.

%s`, source, target, n, n, req.Text)

	return system, user
}
