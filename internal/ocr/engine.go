package ocr

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// Engine names accepted by Options.Engine.
const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"
)

var (
	// ErrEngineUnavailable is returned when an engine cannot be created in
	// this build or environment.
	ErrEngineUnavailable = errors.New("OCR engine unavailable")

	// ErrRecognitionFailed is returned when an engine accepted the image
	// but could not produce a result for it.
	ErrRecognitionFailed = errors.New("text recognition failed")

	// ErrMissingCredentials is returned by the Vision engine when no Google
	// Cloud credentials can be found.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

	// ErrPoolClosed is returned by Pool.Acquire after Close.
	ErrPoolClosed = errors.New("engine pool closed")
)

// Word is one recognized word with its box in cell-image coordinates.
type Word struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Result is the text found in one cell image.
type Result struct {
	// Text is the raw engine output, including line breaks.
	Text string `json:"text"`

	// Confidence is the mean word confidence in [0, 1]. It is 0 when no
	// words were found.
	Confidence float64 `json:"confidence"`

	// Words may be empty when the engine cannot report word boxes.
	Words []Word `json:"words,omitempty"`
}

// Engine recognizes the text in one image. Implementations are not required
// to be safe for concurrent use.
type Engine interface {
	Recognize(img image.Image) (Result, error)
	Close() error
}

// Factory creates a new, independent Engine.
type Factory func() (Engine, error)

// Options selects and configures an engine.
type Options struct {
	// Engine is EngineTesseract or EngineVision.
	Engine string `yaml:"engine" json:"engine"`

	// Language is a Tesseract language code, "+"-separated for several.
	Language string `yaml:"language" json:"language"`

	// PageSegMode is the Tesseract page segmentation mode. Mode 6 treats
	// the cell as one uniform block of text.
	PageSegMode int `yaml:"page_seg_mode" json:"page_seg_mode"`

	// TessdataPrefix overrides the directory holding *.traineddata.
	TessdataPrefix string `yaml:"tessdata_prefix" json:"tessdata_prefix,omitempty"`

	// Whitelist restricts recognized characters when non-empty.
	Whitelist string `yaml:"whitelist" json:"whitelist,omitempty"`

	// VisionCredentialsFile is a service account key for the Vision engine.
	// When empty the environment is consulted.
	VisionCredentialsFile string `yaml:"vision_credentials_file" json:"vision_credentials_file,omitempty"`
}

// DefaultOptions returns Tesseract settings for English timetable cells.
func DefaultOptions() Options {
	return Options{
		Engine:      EngineTesseract,
		Language:    "eng",
		PageSegMode: 6,
	}
}

// Validate reports configuration that no engine can start with.
func (o Options) Validate() error {
	switch strings.ToLower(o.Engine) {
	case EngineTesseract, EngineVision:
	default:
		return fmt.Errorf("unknown OCR engine %q (want %q or %q)", o.Engine, EngineTesseract, EngineVision)
	}
	if o.PageSegMode < 0 || o.PageSegMode > 13 {
		return fmt.Errorf("page_seg_mode must be between 0 and 13, got %d", o.PageSegMode)
	}
	return nil
}

// NewFactory returns a Factory for the engine named in opts.
func NewFactory(opts Options) (Factory, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Language == "" {
		opts.Language = DefaultOptions().Language
	}

	switch strings.ToLower(opts.Engine) {
	case EngineVision:
		share := &visionShare{opts: opts}
		return share.engine, nil
	default:
		return func() (Engine, error) {
			t, err := NewTesseract(opts)
			if err != nil {
				return nil, err
			}
			return t, nil
		}, nil
	}
}

// Error wraps an engine failure with the operation that produced it.
type Error struct {
	// Op is the operation that failed (e.g., "tesseract.Recognize").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError wraps err as an *Error unless it already is one.
func wrapError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var ocrErr *Error
	if errors.As(err, &ocrErr) {
		return err
	}
	return &Error{Op: op, Err: err, Details: details}
}

// meanConfidence averages word confidences already scaled to [0, 1].
func meanConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}
