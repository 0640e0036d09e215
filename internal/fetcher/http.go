package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/retry"
)

const (
	// DefaultManifest is the manifest file name under the base URL
	DefaultManifest = "manifest.txt"

	// DefaultWorkers bounds concurrent page downloads
	DefaultWorkers = 4

	maxBodySize = 8 << 20
)

// HTTPFetcher downloads the corpus listed in a remote manifest
type HTTPFetcher struct {
	client   *http.Client
	base     *url.URL
	manifest string
	cache    *RawCache
	retry    retry.Config
	workers  int
	logger   *zap.Logger
}

// HTTPOption configures an HTTPFetcher
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithManifest sets the manifest path relative to the base URL
func WithManifest(name string) HTTPOption {
	return func(f *HTTPFetcher) {
		if name != "" {
			f.manifest = name
		}
	}
}

// WithCache serves pages from c when present and stores fresh downloads in it
func WithCache(c *RawCache) HTTPOption {
	return func(f *HTTPFetcher) { f.cache = c }
}

// WithRetry sets the backoff used for each request
func WithRetry(cfg retry.Config) HTTPOption {
	return func(f *HTTPFetcher) { f.retry = cfg }
}

// WithWorkers sets the number of concurrent downloads
func WithWorkers(n int) HTTPOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) HTTPOption {
	return func(f *HTTPFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewHTTPFetcher creates a fetcher rooted at baseURL
func NewHTTPFetcher(baseURL string, opts ...HTTPOption) (*HTTPFetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}

	f := &HTTPFetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		base:     base,
		manifest: DefaultManifest,
		retry:    retry.DefaultConfig(),
		workers:  DefaultWorkers,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch reads the manifest, then every page it lists.
// The manifest is never served from the cache.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]Source, error) {
	body, _, err := f.get(ctx, f.manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	paths := ParseManifest(body)
	sources := make([]Source, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for i, p := range paths {
		sources[i].Path = p
		g.Go(func() error {
			f.fetchPage(gctx, &sources[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return sources, nil
}

func (f *HTTPFetcher) fetchPage(ctx context.Context, src *Source) {
	clean, err := cleanPath(src.Path)
	if err != nil {
		src.Err = err
		return
	}
	src.Path = clean

	if f.cache != nil {
		body, ok, err := f.cache.Get(clean)
		if err != nil {
			f.logger.Warn("raw cache read failed", zap.String("path", clean), zap.Error(err))
		}
		if ok {
			metrics.FetchRequestsTotal.WithLabelValues("hit").Inc()
			src.Content = body
			return
		}
	}

	body, modTime, err := f.get(ctx, clean)
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues("error").Inc()
		f.logger.Warn("page fetch failed", zap.String("path", clean), zap.Error(err))
		src.Err = err
		return
	}
	metrics.FetchRequestsTotal.WithLabelValues("miss").Inc()

	src.Content = body
	src.ModTime = modTime

	if f.cache != nil {
		if err := f.cache.Set(clean, body); err != nil {
			f.logger.Warn("raw cache write failed", zap.String("path", clean), zap.Error(err))
		}
	}
}

// get downloads rel with retry. 5xx and 429 responses are retried.
func (f *HTTPFetcher) get(ctx context.Context, rel string) ([]byte, time.Time, error) {
	target := f.base.JoinPath(rel).String()

	type page struct {
		body    []byte
		modTime time.Time
	}

	p, err := retry.Do(ctx, f.retry, func() (page, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
		if err != nil {
			return page{}, retry.Permanent(err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return page{}, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return page{}, err
			}
			return page{}, retry.Permanent(err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return page{}, err
		}

		var modTime time.Time
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				modTime = t.UTC()
			}
		}
		return page{body: body, modTime: modTime}, nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return p.body, p.modTime, nil
}

// ParseManifest returns the page paths listed in a manifest.
// Blank lines and lines starting with # are ignored.
func ParseManifest(body []byte) []string {
	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	return paths
}

// cleanPath normalises a manifest entry and rejects ones leaving the root
func cleanPath(p string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}
