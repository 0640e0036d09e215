package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// MaxLimit caps the number of results any tool returns
const MaxLimit = 50

func limitProperty(description string, def int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"default":     def,
		"minimum":     1,
		"maximum":     MaxLimit,
	}
}

// filtersProperty describes the optional filters object shared by the search tools
func filtersProperty() map[string]interface{} {
	stringList := func(description string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "array",
			"description": description,
			"items":       map[string]interface{}{"type": "string"},
		}
	}

	return map[string]interface{}{
		"type":        "object",
		"description": "Optional filters. Fields are AND-combined, values within a field OR-combined.",
		"properties": map[string]interface{}{
			"difficulty": map[string]interface{}{
				"type":        "string",
				"description": "Target audience of the page",
				"enum":        []string{"beginner", "intermediate", "advanced"},
			},
			"tags":           stringList("Match pages carrying any of these tags"),
			"concepts":       stringList("Match pages whose concept or related concepts include any of these"),
			"category":       stringList("Code block category (component, rune, function, markup, config, shell, other)"),
			"has_runes":      stringList("Code blocks using any of these runes, e.g. $state"),
			"has_functions":  stringList("Code blocks calling any of these functions"),
			"has_components": stringList("Code blocks rendering any of these components"),
		},
	}
}

// searchDocsTool returns the tool definition for search_docs
func searchDocsTool(defaultLimit int) mcp.Tool {
	return mcp.Tool{
		Name:        "search_docs",
		Description: "Search the Svelte documentation with a natural language query. Falls back to keyword matching when semantic search finds nothing.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit":   limitProperty("Maximum number of results to return", defaultLimit),
				"filters": filtersProperty(),
			},
			Required: []string{"query"},
		},
	}
}

// searchByConceptTool returns the tool definition for search_by_concept
func searchByConceptTool(defaultLimit int) mcp.Tool {
	return mcp.Tool{
		Name:        "search_by_concept",
		Description: "List documentation pages whose primary concept matches exactly",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"concept": map[string]interface{}{
					"type":        "string",
					"description": "Concept name, e.g. reactivity or routing",
				},
				"limit":   limitProperty("Maximum number of results to return", defaultLimit),
				"filters": filtersProperty(),
			},
			Required: []string{"concept"},
		},
	}
}

// similarDocsTool returns the tool definition for similar_docs
func similarDocsTool(defaultLimit int) mcp.Tool {
	return mcp.Tool{
		Name:        "similar_docs",
		Description: "Find pages semantically close to an indexed page",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Document id as returned by search_docs",
				},
				"limit": limitProperty("Maximum number of similar pages", defaultLimit),
			},
			Required: []string{"id"},
		},
	}
}

// refreshDocsTool returns the tool definition for refresh_docs
func refreshDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "refresh_docs",
		Description: "Re-fetch the documentation corpus and rebuild the index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
