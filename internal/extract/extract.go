// Package extract isolates diagram source from raw model output.
package extract

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultLanguage is the fence tag looked for when none is configured.
const DefaultLanguage = "mermaid"

var anyFence = regexp.MustCompile("```(?:[\\w+.#-]+[ \\t]*\\r?\\n)?\\s*([\\s\\S]*?)\\s*```")

var (
	mu     sync.Mutex
	tagged = map[string]*regexp.Regexp{}
)

// Extract returns the normalized diagram text found in raw.
//
// The first fence tagged with language wins, then the first fence of any
// kind, then the whole text. Only the first matching block is used and an
// unterminated fence never matches.
func Extract(raw, language string) string {
	if language == "" {
		language = DefaultLanguage
	}

	if m := taggedFence(language).FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFence.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

func taggedFence(language string) *regexp.Regexp {
	key := strings.ToLower(language)

	mu.Lock()
	defer mu.Unlock()
	if re, ok := tagged[key]; ok {
		return re
	}
	// the tag ends at whitespace or a line break, never inside a longer word
	re := regexp.MustCompile("(?i)```" + regexp.QuoteMeta(key) + "(?:[ \\t]*\\r?\\n|[ \\t]|$)\\s*([\\s\\S]*?)\\s*```")
	tagged[key] = re
	return re
}
