//go:build !cgo

package ocr

import (
	"image"
)

// Tesseract is unavailable in builds without cgo.
type Tesseract struct{}

// NewTesseract always fails with ErrEngineUnavailable.
func NewTesseract(opts Options) (*Tesseract, error) {
	return nil, wrapError("tesseract.New", ErrEngineUnavailable, "built without cgo")
}

// Recognize always fails with ErrEngineUnavailable.
func (t *Tesseract) Recognize(img image.Image) (Result, error) {
	return Result{}, ErrEngineUnavailable
}

// Version returns an empty string.
func (t *Tesseract) Version() string { return "" }

// Close is a no-op.
func (t *Tesseract) Close() error { return nil }
