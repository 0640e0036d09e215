package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

func TestCodeBlocks(t *testing.T) {
	body := "intro\n\n```svelte title=\"App.svelte\"\n<p>hi</p>\n```\n\n" +
		"~~~\n```\nnested fence text\n~~~\n\n```js\nfoo()"

	blocks := CodeBlocks(body)
	require.Len(t, blocks, 3)

	assert.Equal(t, "svelte", blocks[0].Language)
	assert.Equal(t, "<p>hi</p>", blocks[0].Code)

	assert.Equal(t, "", blocks[1].Language)
	assert.Equal(t, "```\nnested fence text", blocks[1].Code)

	// Unclosed fences run to the end
	assert.Equal(t, "js", blocks[2].Language)
	assert.Equal(t, "foo()", blocks[2].Code)

	assert.Empty(t, CodeBlocks("no code here"))
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name     string
		block    CodeBlock
		category string
		runes    []string
		funcs    []string
		comps    []string
	}{
		{
			name:     "rune wins over component",
			block:    CodeBlock{Language: "svelte", Code: "let { label } = $props();\n<Button {label} />"},
			category: types.CategoryRune,
			runes:    []string{"$props"},
			funcs:    []string{},
			comps:    []string{"Button"},
		},
		{
			name:     "component",
			block:    CodeBlock{Language: "svelte", Code: "<Modal.Root>\n<Modal.Content />\n</Modal.Root>"},
			category: types.CategoryComponent,
			runes:    []string{},
			funcs:    []string{},
			comps:    []string{"Modal.Root", "Modal.Content"},
		},
		{
			name:     "plain markup",
			block:    CodeBlock{Language: "svelte", Code: "{#if open}<p>open</p>{/if}"},
			category: types.CategoryMarkup,
			runes:    []string{},
			funcs:    []string{},
			comps:    []string{},
		},
		{
			name:     "functions skip keywords and methods",
			block:    CodeBlock{Language: "js", Code: "if (ready) { mount(App, { target }); console.log(x); }"},
			category: types.CategoryFunction,
			runes:    []string{},
			funcs:    []string{"mount"},
			comps:    []string{},
		},
		{
			name:     "kit config",
			block:    CodeBlock{Language: "js", Code: "export default {\n\tkit: { adapter: adapter() }\n};"},
			category: types.CategoryConfig,
			runes:    []string{},
			funcs:    []string{"adapter"},
			comps:    []string{},
		},
		{
			name:     "json",
			block:    CodeBlock{Language: "json", Code: `{"name": "app"}`},
			category: types.CategoryConfig,
			runes:    []string{},
			funcs:    []string{},
			comps:    []string{},
		},
		{
			name:     "shell",
			block:    CodeBlock{Language: "sh", Code: "npm install"},
			category: types.CategoryShell,
			runes:    []string{},
			funcs:    []string{},
			comps:    []string{},
		},
		{
			name:     "other",
			block:    CodeBlock{Language: "text", Code: "plain words"},
			category: types.CategoryOther,
			runes:    []string{},
			funcs:    []string{},
			comps:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := Analyze(tt.block)
			assert.Equal(t, tt.category, cm.Category)
			assert.Equal(t, tt.block.Language, cm.Language)
			assert.Equal(t, tt.runes, cm.Runes)
			assert.Equal(t, tt.funcs, cm.Functions)
			assert.Equal(t, tt.comps, cm.Components)
		})
	}
}

func TestAnalyze_DedupesRunes(t *testing.T) {
	cm := Analyze(CodeBlock{Language: "svelte", Code: "let a = $state(0);\nlet b = $state(1);\n$effect(() => {});"})
	assert.Equal(t, []string{"$state", "$effect"}, cm.Runes)
}
