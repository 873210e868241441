package agent

import (
	"regexp"
	"strings"
)

var thinkingRe = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)

// metaMarkers строки с этими фрагментами выдают рассуждения модели вместо роли.
var metaMarkers = []string{
	"i will", "i'm", "i am", "this tool", "semantic",
	"i think", "i should", "let me", "i found", "<internal",
}

// CleanResponse убирает <thinking> блоки и строки с мета-комментариями.
// Пустая строка после удаленной строки тоже удаляется.
func CleanResponse(text string) string {
	text = thinkingRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	skipBlank := false

	for _, line := range lines {
		lower := strings.ToLower(line)
		if containsAny(lower, metaMarkers) {
			skipBlank = true
			continue
		}
		if skipBlank && strings.TrimSpace(line) == "" {
			skipBlank = false
			continue
		}
		skipBlank = false
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
