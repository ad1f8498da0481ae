// Package ocr recognizes the text of a single table cell.
//
// An Engine turns one prepared cell image into a Result. Two engines are
// provided:
//
//   - Tesseract: native Tesseract through gosseract/v2. Requires cgo and the
//     Tesseract libraries at build time, and language data at run time.
//   - Vision: Google Cloud Vision DOCUMENT_TEXT_DETECTION, for deployments
//     without native Tesseract.
//
// # Prerequisites
//
// Tesseract must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr libtesseract-dev
//   - macOS: brew install tesseract
//
// Builds without cgo compile a stub whose constructor returns
// ErrEngineUnavailable.
//
// Vision reads credentials from GOOGLE_CREDENTIALS (inline JSON),
// GOOGLE_APPLICATION_CREDENTIALS (file path), or application default
// credentials, in that order.
//
// # Concurrency
//
// A Tesseract engine wraps one native handle and must not be used by two
// goroutines at once. Pool hands out engines exclusively; callers that fan
// out recognition should check one engine out per worker and return it
// when done. Vision engines created by the same factory share one
// goroutine-safe API client.
package ocr
