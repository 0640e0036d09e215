package extractor

import (
	"regexp"
	"strings"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

var (
	runePattern      = regexp.MustCompile(`\$(state|derived|effect|props|bindable|inspect|host)\b(\.[a-z]+)?`)
	callPattern      = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	componentPattern = regexp.MustCompile(`<([A-Z][A-Za-z0-9]*(?:\.[A-Z][A-Za-z0-9]*)?)`)
)

// Identifiers that look like calls but are not
var notFunctions = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"function": true, "return": true, "typeof": true, "await": true, "new": true,
	"import": true, "export": true,
}

var (
	shellLanguages  = map[string]bool{"bash": true, "sh": true, "shell": true, "zsh": true, "console": true}
	configLanguages = map[string]bool{"json": true, "yaml": true, "yml": true, "toml": true}
	markupLanguages = map[string]bool{"svelte": true, "html": true}
)

// CodeBlocks returns the fenced code blocks of a markdown body in order.
// Both ``` and ~~~ fences are recognised; an unclosed fence runs to the end.
func CodeBlocks(body string) []CodeBlock {
	var blocks []CodeBlock
	var current *CodeBlock
	var fence string
	var lines []string

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)

		if current == nil {
			for _, f := range []string{"```", "~~~"} {
				if strings.HasPrefix(trimmed, f) {
					fence = f
					info := strings.TrimSpace(strings.TrimLeft(trimmed, f[:1]))
					lang := info
					if i := strings.IndexAny(info, " \t{"); i >= 0 {
						lang = info[:i]
					}
					current = &CodeBlock{Language: strings.ToLower(lang)}
					lines = nil
					break
				}
			}
			continue
		}

		if strings.HasPrefix(trimmed, fence) && strings.Trim(trimmed, fence[:1]) == "" {
			current.Code = strings.Join(lines, "\n")
			blocks = append(blocks, *current)
			current = nil
			continue
		}
		lines = append(lines, line)
	}

	if current != nil {
		current.Code = strings.Join(lines, "\n")
		blocks = append(blocks, *current)
	}
	return blocks
}

// Analyze derives the category and facets of a code block
func Analyze(b CodeBlock) types.CodeMetadata {
	cm := types.CodeMetadata{
		Language:   b.Language,
		Runes:      runes(b.Code),
		Components: components(b.Code),
	}
	cm.Functions = functions(b.Code)
	cm.Category = category(b, cm)
	return cm
}

func category(b CodeBlock, cm types.CodeMetadata) string {
	switch {
	case shellLanguages[b.Language]:
		return types.CategoryShell
	case configLanguages[b.Language], isConfig(b.Code):
		return types.CategoryConfig
	case len(cm.Runes) > 0:
		return types.CategoryRune
	case len(cm.Components) > 0:
		return types.CategoryComponent
	case markupLanguages[b.Language]:
		return types.CategoryMarkup
	case len(cm.Functions) > 0:
		return types.CategoryFunction
	}
	return types.CategoryOther
}

// isConfig spots svelte.config.js and vite.config.js style modules
func isConfig(code string) bool {
	return strings.Contains(code, "defineConfig(") ||
		(strings.Contains(code, "export default") && strings.Contains(code, "kit:"))
}

func runes(code string) []string {
	return dedupeExact(runePattern.FindAllString(code, -1))
}

// functions collects called identifiers, skipping method calls and runes
func functions(code string) []string {
	var out []string
	for _, loc := range callPattern.FindAllStringSubmatchIndex(code, -1) {
		start, end := loc[2], loc[3]
		if start > 0 && (code[start-1] == '.' || code[start-1] == '$') {
			continue
		}
		name := code[start:end]
		if notFunctions[name] {
			continue
		}
		out = append(out, name)
	}
	return dedupeExact(out)
}

func components(code string) []string {
	var out []string
	for _, m := range componentPattern.FindAllStringSubmatch(code, -1) {
		out = append(out, m[1])
	}
	return dedupeExact(out)
}

// dedupeExact drops repeats without changing case
func dedupeExact(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
