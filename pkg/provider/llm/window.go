package llm

import "strings"

// DefaultContextWindow is assumed for hosted models missing from the table.
const DefaultContextWindow = 128_000

// localContextWindow is assumed for self-hosted backends, which usually run
// with a small context unless configured otherwise.
const localContextWindow = 8_192

// windowPrefixes maps model name prefixes to context windows. The first match
// wins, so longer prefixes come first.
var windowPrefixes = []struct {
	prefix string
	tokens int
}{
	{"gpt-4.1", 1_047_576},
	{"gpt-4o", 128_000},
	{"gpt-3.5", 16_385},
	{"o3", 200_000},
	{"o4", 200_000},
	{"claude", 200_000},
	{"gemini-1.5-pro", 2_097_152},
	{"gemini", 1_048_576},
	{"deepseek", 64_000},
	{"mistral-large", 128_000},
	{"llama", localContextWindow},
	{"qwen", 32_768},
	{"phi", 4_096},
}

// KnownContextWindow looks model up by name prefix. Names containing a
// registry path or tag ("library/llama3:8b") are matched on their base name.
// Unknown models get [DefaultContextWindow].
func KnownContextWindow(model string) int {
	name := strings.ToLower(model)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, w := range windowPrefixes {
		if strings.HasPrefix(name, w.prefix) {
			return w.tokens
		}
	}
	return DefaultContextWindow
}

// LocalContextWindow is [KnownContextWindow] for self-hosted backends: a
// model the table does not know gets a small window instead of the hosted
// default.
func LocalContextWindow(model string) int {
	if w := KnownContextWindow(model); w != DefaultContextWindow {
		return w
	}
	return localContextWindow
}

// WithContextWindow returns p reporting tokens as its context window.
func WithContextWindow(p Provider, tokens int) Provider {
	if tokens <= 0 {
		return p
	}
	return windowOverride{Provider: p, tokens: tokens}
}

type windowOverride struct {
	Provider
	tokens int
}

func (w windowOverride) ContextWindow() int { return w.tokens }
