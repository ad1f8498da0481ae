package ocr

import (
	"errors"
	"image"
	"strings"
	"testing"
)

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", DefaultOptions(), false},
		{"vision", Options{Engine: EngineVision}, false},
		{"case insensitive", Options{Engine: "Tesseract", PageSegMode: 7}, false},
		{"unknown engine", Options{Engine: "easyocr"}, true},
		{"empty engine", Options{}, true},
		{"page seg mode too high", Options{Engine: EngineTesseract, PageSegMode: 14}, true},
		{"negative page seg mode", Options{Engine: EngineTesseract, PageSegMode: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewFactory_UnknownEngine(t *testing.T) {
	if _, err := NewFactory(Options{Engine: "nope"}); err == nil {
		t.Error("NewFactory should reject an unknown engine")
	}
}

func TestError(t *testing.T) {
	base := errors.New("boom")

	err := wrapError("tesseract.Recognize", base, "failed to set image")
	if !errors.Is(err, base) {
		t.Error("wrapped error should match the underlying error")
	}
	if got := err.Error(); !strings.Contains(got, "tesseract.Recognize") || !strings.Contains(got, "failed to set image") {
		t.Errorf("Error() = %q, want op and details", got)
	}

	if again := wrapError("outer", err, ""); again != err {
		t.Error("an *Error should not be wrapped twice")
	}
	if wrapError("op", nil, "") != nil {
		t.Error("wrapping nil should return nil")
	}

	plain := &Error{Op: "vision.New", Err: ErrMissingCredentials}
	if got, want := plain.Error(), "ocr: vision.New failed: "+ErrMissingCredentials.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestMeanConfidence(t *testing.T) {
	tests := []struct {
		name  string
		words []Word
		want  float64
	}{
		{"none", nil, 0},
		{"one", []Word{{Text: "MON", Confidence: 0.9}}, 0.9},
		{"two", []Word{{Confidence: 0.5}, {Confidence: 1.0}}, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := meanConfidence(tt.words); got != tt.want {
				t.Errorf("meanConfidence() = %v, want %v", got, tt.want)
			}
		})
	}
}

// fakeEngine records how it is used; tests in this package share it.
type fakeEngine struct {
	id     int
	closed bool
	text   string
	err    error
}

func (f *fakeEngine) Recognize(img image.Image) (Result, error) {
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Text: f.text, Confidence: 1}, nil
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}
