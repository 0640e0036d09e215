// Package mcp implements the Model Context Protocol (MCP) server for docsearch.
//
// The server exposes five tools to AI assistants:
//   - search_docs: natural language search with optional facet filters
//   - search_by_concept: pages whose primary concept matches exactly
//   - similar_docs: pages close to an indexed page
//   - refresh_docs: re-fetch and re-index the corpus
//   - get_status: index statistics and health
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio. Stdout carries protocol messages only;
// logs go to stderr.
//
//	docsearch serve
//
// # Tool: search_docs
//
//	Request:
//	{
//	  "name": "search_docs",
//	  "arguments": {
//	    "query": "how do I declare reactive state",
//	    "limit": 3,
//	    "filters": {"difficulty": "beginner", "has_runes": ["$state"]}
//	  }
//	}
//
//	Response:
//	{
//	  "query": "how do I declare reactive state",
//	  "count": 1,
//	  "results": [
//	    {"id": "5a1c...", "title": "$state", "similarity": 0.83, "source": "vector", ...}
//	  ]
//	}
//
// Limits outside 1..50 are clamped rather than rejected. The source field
// tells whether a result came from vector similarity or the keyword fallback.
//
// # Error Codes
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  document not found
//	-32002  refresh already in progress
//	-32003  document has no embedding
//	-32004  empty query
//	-32005  search failed
package mcp
