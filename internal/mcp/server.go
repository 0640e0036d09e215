package mcp

import (
	"context"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "docsearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	store    storage.Store
	embedder embedder.Embedder
	searcher *searcher.Searcher
	indexer  *indexer.Indexer // nil when no corpus source is configured
	logger   *zap.Logger
	version  string
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger for tool failures
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIndexer enables the refresh_docs tool
func WithIndexer(idx *indexer.Indexer) Option {
	return func(s *Server) { s.indexer = idx }
}

// WithVersion overrides the advertised server version
func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// NewServer creates a new MCP server instance. The caller keeps ownership
// of store and emb.
func NewServer(store storage.Store, emb embedder.Embedder, srch *searcher.Searcher, opts ...Option) *Server {
	s := &Server{
		store:    store,
		embedder: emb,
		searcher: srch,
		logger:   zap.NewNop(),
		version:  ServerVersion,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		ServerName,
		s.version,
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx is canceled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.Listen(ctx, os.Stdin, os.Stdout)
}

// Listen runs the MCP protocol over the given streams
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("mcp")))
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	defaultLimit := s.searcher.EffectiveLimit(0)
	s.mcp.AddTool(searchDocsTool(defaultLimit), s.handleSearchDocs)
	s.mcp.AddTool(searchByConceptTool(defaultLimit), s.handleSearchByConcept)
	s.mcp.AddTool(similarDocsTool(defaultLimit), s.handleSimilarDocs)
	s.mcp.AddTool(refreshDocsTool(), s.handleRefreshDocs)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
