//go:build cgo

package ocr

import (
	"fmt"
	"image"

	"github.com/otiai10/gosseract/v2"

	"github.com/ironsheep/timetable-ocr/internal/imaging"
)

// Tesseract recognizes text with a native Tesseract handle.
//
// Each value owns one gosseract.Client. It is not safe for concurrent use;
// give every worker its own engine.
type Tesseract struct {
	client *gosseract.Client
	opts   Options
}

// NewTesseract creates an engine configured from opts.
func NewTesseract(opts Options) (*Tesseract, error) {
	const op = "tesseract.New"

	if opts.Language == "" {
		opts.Language = DefaultOptions().Language
	}

	client := gosseract.NewClient()

	if opts.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(opts.TessdataPrefix); err != nil {
			client.Close()
			return nil, wrapError(op, err, "failed to set tessdata path")
		}
	}

	if err := client.SetLanguage(opts.Language); err != nil {
		client.Close()
		return nil, wrapError(op, err, "failed to set language")
	}

	if err := client.SetPageSegMode(gosseract.PageSegMode(opts.PageSegMode)); err != nil {
		client.Close()
		return nil, wrapError(op, err, "failed to set page segmentation mode")
	}

	if opts.Whitelist != "" {
		if err := client.SetWhitelist(opts.Whitelist); err != nil {
			client.Close()
			return nil, wrapError(op, err, "failed to set character whitelist")
		}
	}

	return &Tesseract{client: client, opts: opts}, nil
}

// Recognize performs OCR on img.
//
// The image is handed to Tesseract as in-memory PNG bytes. Confidence is
// the mean of the RIL_WORD confidences. If word boxes cannot be read the
// text is still returned with zero confidence.
func (t *Tesseract) Recognize(img image.Image) (Result, error) {
	const op = "tesseract.Recognize"

	data, err := imaging.EncodePNG(img)
	if err != nil {
		return Result{}, wrapError(op, err, "failed to encode cell image")
	}

	if err := t.client.SetImageFromBytes(data); err != nil {
		return Result{}, wrapError(op, err, "failed to set image")
	}

	text, err := t.client.Text()
	if err != nil {
		return Result{}, wrapError(op, fmt.Errorf("%w: %w", ErrRecognitionFailed, err), "")
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return Result{Text: text}, nil
	}

	words := make([]Word, 0, len(boxes))
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		words = append(words, Word{
			Text:       box.Word,
			Confidence: float64(box.Confidence) / 100.0,
			Box:        box.Box,
		})
	}

	return Result{
		Text:       text,
		Confidence: meanConfidence(words),
		Words:      words,
	}, nil
}

// Version returns the linked Tesseract version.
func (t *Tesseract) Version() string {
	return t.client.Version()
}

// Close releases the native handle.
func (t *Tesseract) Close() error {
	return t.client.Close()
}
