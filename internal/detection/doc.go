// Package detection finds the grid lines of a table in a normalized image.
//
// # Algorithm Overview
//
// Detection works on the bilevel output of imaging.Normalize and treats the
// two axes independently:
//
//  1. Profile: every image row (or column) is reduced to the number of ink
//     pixels lying on long runs. Grid lines span the table and score high;
//     glyph strokes are short and drop out.
//  2. Candidates: local maxima at or above RelativeThreshold of the
//     strongest value.
//  3. Merging: candidates closer than MinSpacing collapse into one boundary
//     at the earliest position, so a thick or doubled line is reported once.
//     The stroke width of each boundary is recorded.
//
// Fewer than two boundaries on either axis means there is no table, and
// Detect returns ErrGridNotFound.
//
// # Coordinate System
//
// All coordinates use the standard image convention:
//   - Origin (0, 0) at top-left corner
//   - X increases rightward
//   - Y increases downward
//
// Boundaries are in pixels of the normalized image, which may be smaller
// than the file on disk.
//
// # Determinism
//
// Detection has no randomness and breaks ties by position, so identical
// input always yields an identical LineSet.
//
// # Limitations
//
// Skew beyond a pixel or two per run gap weakens the profile. Tables drawn
// with background shading instead of ruled lines are not detected.
package detection
