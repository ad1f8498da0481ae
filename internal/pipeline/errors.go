package pipeline

import (
	"errors"
	"fmt"

	"github.com/ironsheep/timetable-ocr/internal/detection"
	"github.com/ironsheep/timetable-ocr/internal/imaging"
	"github.com/ironsheep/timetable-ocr/internal/ocr"
	"github.com/ironsheep/timetable-ocr/internal/table"
)

// Kind classifies a failed conversion.
type Kind string

const (
	// KindDecode: the image file is missing, empty or corrupt.
	KindDecode Kind = "decode"
	// KindGridNotFound: no table structure in the image.
	KindGridNotFound Kind = "grid_not_found"
	// KindIncompleteTable: recognized cells did not cover the grid.
	KindIncompleteTable Kind = "incomplete_table"
	// KindRecognition: the engine returned an error for every cell, which
	// means the engine itself is broken. Unreadable or low-confidence text
	// is never an error; those cells come back as "".
	KindRecognition Kind = "recognition"
	// KindEngine: no OCR engine could be created.
	KindEngine Kind = "engine"
)

// Error is the single failure a conversion reports.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op is the stage that failed (e.g., "load", "detect").
	Op string

	// Reason is a human-readable summary suitable for end users.
	Reason string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, &pipeline.Error{Kind: pipeline.KindDecode}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var reasons = map[Kind]string{
	KindDecode:          "image could not be decoded",
	KindGridNotFound:    "no table detected",
	KindIncompleteTable: "recognized cells do not match the detected grid",
	KindRecognition:     "text recognition failed",
	KindEngine:          "OCR engine unavailable",
}

// newError wraps err for stage op under the given kind.
func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reasons[kind], Err: err}
}

// KindOf classifies err. It understands *Error and the package sentinels
// of each pipeline stage; anything else yields "".
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}

	var oe *ocr.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, imaging.ErrDecode):
		return KindDecode
	case errors.Is(err, detection.ErrGridNotFound):
		return KindGridNotFound
	case errors.Is(err, table.ErrIncompleteTable):
		return KindIncompleteTable
	case errors.Is(err, table.ErrAllCellsFailed):
		return KindRecognition
	case errors.Is(err, ocr.ErrEngineUnavailable), errors.Is(err, ocr.ErrPoolClosed), errors.As(err, &oe):
		return KindEngine
	default:
		return ""
	}
}
