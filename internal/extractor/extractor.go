package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

var (
	// ErrEmptyDocument is returned for sources with no body text
	ErrEmptyDocument = errors.New("document has no content")

	// ErrFrontmatter is returned when the YAML header cannot be parsed
	ErrFrontmatter = errors.New("invalid frontmatter")
)

// frontmatter is the optional YAML header of a documentation page
type frontmatter struct {
	Title           string   `yaml:"title"`
	Concept         string   `yaml:"concept"`
	RelatedConcepts []string `yaml:"related_concepts"`
	Difficulty      string   `yaml:"difficulty"`
	Tags            []string `yaml:"tags"`
}

// CodeBlock is one fenced block of a page
type CodeBlock struct {
	Language string
	Code     string
}

// Extractor turns markdown pages into Documents
type Extractor struct {
	pathTags bool
}

// Option configures an Extractor
type Option func(*Extractor)

// WithoutPathTags stops directory names from being added as tags
func WithoutPathTags() Option {
	return func(e *Extractor) { e.pathTags = false }
}

// New creates a new Extractor instance
func New(opts ...Option) *Extractor {
	e := &Extractor{pathTags: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract builds a Document from the markdown source at sourcePath.
// The embedding and LastUpdated are left for the caller.
func (e *Extractor) Extract(sourcePath string, raw []byte) (*types.Document, error) {
	fm, body, err := splitFrontmatter(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sourcePath, err)
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%s: %w", sourcePath, ErrEmptyDocument)
	}

	blocks := CodeBlocks(body)

	doc := &types.Document{
		ID:              types.DocumentID(sourcePath),
		Path:            sourcePath,
		Title:           title(fm.Title, body, sourcePath),
		Content:         body,
		Concept:         concept(fm.Concept, sourcePath),
		RelatedConcepts: fm.RelatedConcepts,
		Difficulty:      types.ParseDifficulty(fm.Difficulty),
		CodeExamples:    make([]string, 0, len(blocks)),
		CodeMetadata:    make([]types.CodeMetadata, 0, len(blocks)),
	}

	tags := fm.Tags
	if e.pathTags {
		tags = append(append([]string{}, tags...), pathSegments(sourcePath)...)
	}
	doc.Tags = dedupe(tags)

	for _, b := range blocks {
		doc.CodeExamples = append(doc.CodeExamples, b.Code)
		doc.CodeMetadata = append(doc.CodeMetadata, Analyze(b))
	}

	return doc, nil
}

// splitFrontmatter separates a leading ---delimited YAML header from the body
func splitFrontmatter(raw []byte) (frontmatter, string, error) {
	var fm frontmatter

	text := string(bytes.TrimPrefix(raw, []byte("\ufeff")))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return fm, text, nil
	}

	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		// An unterminated header is ordinary content
		return fm, text, nil
	}

	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return fm, "", fmt.Errorf("%w: %v", ErrFrontmatter, err)
	}

	body := rest[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return fm, body, nil
}

// title prefers the frontmatter, then the first level-one heading, then the file name
func title(fromHeader, body, sourcePath string) string {
	if t := strings.TrimSpace(fromHeader); t != "" {
		return t
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return stripOrdinal(strings.TrimSuffix(path.Base(sourcePath), path.Ext(sourcePath)))
}

// concept prefers the frontmatter, then the parent directory name
func concept(fromHeader, sourcePath string) string {
	if c := strings.TrimSpace(fromHeader); c != "" {
		return strings.ToLower(c)
	}
	dir := path.Dir(path.Clean("/" + sourcePath))
	if dir == "/" {
		return ""
	}
	return strings.ToLower(stripOrdinal(path.Base(dir)))
}

// pathSegments returns the directory names of sourcePath without ordinal prefixes
func pathSegments(sourcePath string) []string {
	dir := strings.Trim(path.Dir(path.Clean("/"+sourcePath)), "/")
	if dir == "" {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(dir, "/") {
		if s := stripOrdinal(seg); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var ordinalPrefix = regexp.MustCompile(`^\d+[-_]`)

// stripOrdinal removes a sort prefix such as "02-"
func stripOrdinal(name string) string {
	return ordinalPrefix.ReplaceAllString(name, "")
}

// dedupe lowercases values and drops repeats, keeping first-seen order
func dedupe(values []string) []string {
	seen := orderedmap.New[string, struct{}]()
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		seen.Set(v, struct{}{})
	}

	out := make([]string, 0, seen.Len())
	for pair := seen.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}
