package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// WordWrap wraps text at the specified width.
func WordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		lineLen := 0
		for j, word := range words {
			wl := len([]rune(word))
			if j > 0 {
				if lineLen+wl+1 > width {
					result.WriteString("\n")
					lineLen = 0
				} else {
					result.WriteString(" ")
					lineLen++
				}
			}
			result.WriteString(word)
			lineLen += wl
		}
	}

	return result.String()
}

// CleanJSONBlock removes markdown code fences from a JSON string if present.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(text, fence)
		if start == -1 {
			continue
		}
		text = text[start+len(fence):]
		if end := strings.LastIndex(text, "```"); end != -1 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}

	return text
}

var objectPatterns = map[string]*regexp.Regexp{}

func objectPattern(key string) *regexp.Regexp {
	if re, ok := objectPatterns[key]; ok {
		return re
	}
	return regexp.MustCompile(`\{[\s\S]*?"` + regexp.QuoteMeta(key) + `"[\s\S]*?\}`)
}

func init() {
	for _, k := range []string{"narration", "answer"} {
		objectPatterns[k] = regexp.MustCompile(`\{[\s\S]*?"` + k + `"[\s\S]*?\}`)
	}
}

// ExtractJSON finds the first object-shaped substring of raw that mentions key
// and decodes it into target. Model output is untrusted: a false return means
// the caller should use raw as plain text.
func ExtractJSON(raw, key string, target any) bool {
	text := CleanJSONBlock(raw)
	if json.Unmarshal([]byte(text), target) == nil && strings.Contains(text, `"`+key+`"`) {
		return true
	}
	match := objectPattern(key).FindString(raw)
	if match == "" {
		return false
	}
	return json.Unmarshal([]byte(match), target) == nil
}
