package generator

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	thinkBlock     = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkingBlock  = regexp.MustCompile(`(?is)\[thinking\].*?\[/thinking\]`)
	zhThinkBlock   = regexp.MustCompile(`(?s)\[思考\].*?\[/思考\]`)
	hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
)

// DefaultHashtags are used when the model gives none for a language.
var DefaultHashtags = map[string][]string{
	"zh": {"#陽明交大", "#AI學院", "#獲獎", "#人工智慧", "#研究"},
	"en": {"#NYCU", "#AI", "#Award", "#Research", "#Achievement"},
}

const maxHashtags = 5

// CleanOutput strips reasoning blocks that some models emit before the answer.
func CleanOutput(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	text = thinkingBlock.ReplaceAllString(text, "")
	text = zhThinkBlock.ReplaceAllString(text, "")
	// An unterminated block means the model ran out of tokens while thinking.
	if i := strings.Index(text, "<think>"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// ParseTitled splits "TITLE: ...\nCONTENT: ..." output. Text without the
// markers is returned whole as content.
func ParseTitled(text string) (title, content string) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case title == "" && hasPrefixFold(trimmed, "TITLE:"):
			title = strings.TrimSpace(trimmed[len("TITLE:"):])
		case hasPrefixFold(trimmed, "CONTENT:"):
			rest := append([]string{trimmed[len("CONTENT:"):]}, lines[i+1:]...)
			return title, strings.TrimSpace(strings.Join(rest, "\n"))
		}
	}
	if title != "" {
		return title, ""
	}
	return "", strings.TrimSpace(text)
}

// ParseHashtags reads "ZH: #a #b" style lines, keyed by lower-case language.
func ParseHashtags(text string) map[string][]string {
	out := make(map[string][]string)
	for _, line := range strings.Split(text, "\n") {
		label, rest, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		lang := strings.ToLower(strings.TrimSpace(label))
		tags := hashtagPattern.FindAllString(rest, -1)
		if lang == "" || len(tags) == 0 {
			continue
		}
		if len(tags) > maxHashtags {
			tags = tags[:maxHashtags]
		}
		out[lang] = tags
	}
	return out
}

// MergeHashtags joins the tags of the given languages in order, falling back
// to the defaults per language and dropping repeats.
func MergeHashtags(parsed map[string][]string, languages []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, lang := range languages {
		tags := parsed[lang]
		if len(tags) == 0 {
			tags = DefaultHashtags[lang]
		}
		for _, t := range tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
