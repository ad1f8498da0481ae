// Package server implements the MCP (Model Context Protocol) server for
// timetable conversion.
//
// The server speaks JSON-RPC 2.0 over stdio through the official Go SDK. It
// is designed to let Claude and other MCP clients read timetable screenshots
// into structured tables and inspect how the grid was found.
//
// # Available Tools
//
// Conversion:
//   - timetable_convert: Read a timetable into a 2-D array of strings
//   - timetable_detect_grid: Find row and column boundaries without OCR
//
// Inspection:
//   - image_load: Dimensions, format and file size of an image
//   - timetable_grid_overlay: Preprocessed image with boundaries drawn
//
// # Error Handling
//
// A failed conversion is returned as a tool result with IsError set and the
// pipeline error text as content, so clients can tell an unreadable image
// ("image could not be decoded") from one without a table ("no table
// detected").
//
// # Usage
//
//	srv := server.New(converter, version, logger.WithComponent("mcp"))
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
