// Package pipeline converts a timetable screenshot into a table of text.
//
// A conversion runs these stages in order:
//
//	Load -> Normalize -> Detect -> Segment -> Recognize -> Assemble
//
// Only recognition runs concurrently, over a bounded pool of OCR engines
// owned by the Converter.
//
// # Errors
//
// Every fatal failure is returned as a *Error carrying a Kind:
//
//   - KindDecode: unreadable, empty or corrupt image
//   - KindGridNotFound: fewer than two boundaries on an axis
//   - KindIncompleteTable: internal accounting failure while assembling
//   - KindRecognition: the engine returned an error for every cell (a
//     broken engine, not uncertain text)
//   - KindEngine: no engine could be started
//
// Per-cell problems (degenerate regions, unreadable or low-confidence
// text) never fail a conversion; the cell is returned as an empty string.
package pipeline
