// Package imaging loads raster files and prepares them for table extraction.
//
// This package implements the pixel-level stages of the timetable pipeline:
// decoding an uploaded screenshot, normalizing it into a bilevel image where
// grid lines and glyphs are ink, materializing individual cells for OCR, and
// drawing detected boundaries back onto an image for inspection.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, (x1,y1) is inclusive (top-left), (x2,y2) is exclusive (bottom-right)
//
// Normalized images are always anchored at the origin.
//
// # Immutability
//
// RasterImage values are never modified after construction. Normalize and
// CropCell return new buffers, so one normalized image can be read by many
// recognition workers at once without locking.
//
// # Error Handling
//
// Load wraps every failure in ErrDecode. Normalize never fails; an image
// with no usable structure comes out blank and is rejected by grid
// detection instead.
package imaging
