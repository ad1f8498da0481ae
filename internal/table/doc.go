// Package table turns a detected grid into a table of text.
//
// The three stages run in order:
//
//  1. Segment cuts the normalized image into one CellRegion per cell,
//     pulled in from the grid lines so strokes are not read as text.
//  2. Recognizer reads each region through an OCR engine pool. Cells are
//     independent, so RecognizeAll fans them out over a bounded number of
//     workers; each worker keeps one engine to itself.
//  3. Assemble places the recognized text by (row, col).
//
// Uncertain OCR output is data, not an error: a cell that is blank,
// degenerate, unreadable or below the confidence floor becomes an empty
// string and carries a Status explaining why. Only accounting problems
// (ErrIncompleteTable) or an engine that fails on every cell
// (ErrAllCellsFailed) stop a run.
package table
