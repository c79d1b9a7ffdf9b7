// Package classify decides the category of captured clipboard text.
package classify

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/marcus/plate/internal/models"
)

// codePatterns are language signals matched against the trimmed text.
// Anchored patterns only look at the start of the text.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(function|class|import|export|const|let|var|if|for|while)\s`),
	regexp.MustCompile(`\{[\s\S]*\}`),
	regexp.MustCompile(`\(\s*\)\s*=>`),
	regexp.MustCompile(`^[a-zA-Z]+\s+[a-zA-Z_$][0-9a-zA-Z_$]*\s*\(`),
	regexp.MustCompile(`^#include`),
	regexp.MustCompile(`^package\s`),
	regexp.MustCompile(`^using\s`),
	regexp.MustCompile(`^public\s`),
	regexp.MustCompile(`^private\s`),
	regexp.MustCompile(`^protected\s`),
}

var leadingSpace = regexp.MustCompile(`^\s+`)

// Classify returns the category for clipboard text. First match wins:
// http(s) URL, then code heuristics, then plain text.
func Classify(text string) models.Category {
	if IsLink(text) {
		return models.CategoryLink
	}
	if IsCode(text) {
		return models.CategoryCode
	}
	return models.CategoryText
}

// IsLink reports whether text is a single absolute http or https URL.
func IsLink(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	u, err := url.Parse(text)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// IsCode applies the code-likelihood heuristic: an indentation signal on
// multi-line text, or any of the language patterns.
func IsCode(text string) bool {
	if text == "" {
		return false
	}

	lines := strings.Split(text, "\n")
	if len(lines) > 2 {
		indented := 0
		for _, line := range lines {
			if leadingSpace.MatchString(line) {
				indented++
			}
		}
		if indented > 1 {
			return true
		}
	}

	trimmed := strings.TrimSpace(text)
	for _, p := range codePatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// languageHints maps a leading token to a fenced-code language name.
var languageHints = []struct {
	re   *regexp.Regexp
	lang string
}{
	{regexp.MustCompile(`(?m)^package\s+\w+`), "go"},
	{regexp.MustCompile(`(?m)^#include`), "c"},
	{regexp.MustCompile(`(?m)^using\s+[\w.]+;`), "csharp"},
	{regexp.MustCompile(`(?m)^(public|private|protected)\s+(static\s+)?(class|void|final)`), "java"},
	{regexp.MustCompile(`(?m)^(def|class)\s+\w+.*:\s*$`), "python"},
	{regexp.MustCompile(`(?m)(^(function|const|let|var|export|import)\s)|(\(\s*\)\s*=>)`), "javascript"},
}

// Language returns a best-effort language name for code text, or "" when
// nothing stands out. Used for rendering only, never for classification.
func Language(text string) string {
	for _, h := range languageHints {
		if h.re.MatchString(text) {
			return h.lang
		}
	}
	return ""
}
