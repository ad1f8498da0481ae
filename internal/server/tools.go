package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// pathProperty is the schema of the image path argument every tool takes.
var pathProperty = map[string]interface{}{
	"type":        "string",
	"description": "Absolute path to the timetable image (PNG, JPEG, GIF, BMP, TIFF or WebP)",
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		// Conversion
		{
			Name:        "timetable_convert",
			Description: "Read a timetable screenshot and return its cells as a 2-D array of strings, row by row. Unreadable cells are empty strings. Set detail to also get the detected grid and per-cell confidence.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
					"detail": map[string]interface{}{
						"type":        "boolean",
						"description": "Include grid boundaries, per-cell status and confidence, and stage timings",
						"default":     false,
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "timetable_detect_grid",
			Description: "Detect the table grid of a timetable screenshot without running OCR. Boundaries are pixel coordinates in the working resolution (longer side at most 1500 px by default).",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
				},
				"required": []string{"path"},
			},
		},

		// Inspection
		{
			Name:        "image_load",
			Description: "Load an image file and return its dimensions, format, color depth and file size.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "timetable_grid_overlay",
			Description: "Return the preprocessed image with the detected row and column boundaries drawn on it, as base64-encoded PNG. Use this to check why a table was read with the wrong shape.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
					"row_color": map[string]interface{}{
						"type":        "string",
						"description": "Row boundary color as hex (default #FF0000)",
						"default":     "#FF0000",
					},
					"column_color": map[string]interface{}{
						"type":        "string",
						"description": "Column boundary color as hex (default: complement of the row color)",
					},
					"labels": map[string]interface{}{
						"type":        "boolean",
						"description": "Label each boundary with its index",
						"default":     true,
					},
				},
				"required": []string{"path"},
			},
		},
	}
}
