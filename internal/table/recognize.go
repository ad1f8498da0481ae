package table

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ironsheep/timetable-ocr/internal/imaging"
	"github.com/ironsheep/timetable-ocr/internal/ocr"
)

// ErrAllCellsFailed is returned by RecognizeAll when the engine failed on
// every cell it was asked to read.
var ErrAllCellsFailed = errors.New("OCR failed on every cell")

// Status describes how a cell's text was obtained.
type Status string

const (
	StatusOK            Status = "ok"
	StatusEmpty         Status = "empty"
	StatusLowConfidence Status = "low_confidence"
	StatusDegenerate    Status = "degenerate"
	StatusBlank         Status = "blank"
	StatusFailed        Status = "failed"
)

// RecognizedCell is the text read from one CellRegion.
type RecognizedCell struct {
	Row        int     `json:"row"`
	Col        int     `json:"col"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Status     Status  `json:"status"`

	// Err is set for StatusFailed and StatusDegenerate.
	Err error `json:"-"`
}

// RecognizeOptions tunes cell preparation and text acceptance.
type RecognizeOptions struct {
	// Workers bounds concurrent recognition. Zero means runtime.NumCPU().
	Workers int `yaml:"workers" json:"workers"`

	// Scale and Border prepare the cell image, see imaging.CellImageOptions.
	Scale  float64 `yaml:"scale" json:"scale"`
	Border int     `yaml:"border" json:"border"`

	// ConfidenceFloor discards text read with lower mean confidence.
	ConfidenceFloor float64 `yaml:"confidence_floor" json:"confidence_floor"`

	// MinRunes discards text shorter than this after cleanup.
	MinRunes int `yaml:"min_runes" json:"min_runes"`

	// SkipBlank returns cells without ink as empty without calling the
	// engine.
	SkipBlank bool `yaml:"skip_blank" json:"skip_blank"`
}

// DefaultRecognizeOptions returns settings tuned for short timetable labels.
func DefaultRecognizeOptions() RecognizeOptions {
	return RecognizeOptions{
		Scale:           3,
		Border:          10,
		ConfidenceFloor: 0.3,
		MinRunes:        1,
		SkipBlank:       true,
	}
}

// WorkerCount returns the effective worker bound.
func (o RecognizeOptions) WorkerCount() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

// Recognizer reads cell text through a pool of OCR engines.
type Recognizer struct {
	pool *ocr.Pool
	opts RecognizeOptions
	log  zerolog.Logger
}

// NewRecognizer creates a recognizer. The pool stays owned by the caller.
func NewRecognizer(pool *ocr.Pool, opts RecognizeOptions, log zerolog.Logger) *Recognizer {
	return &Recognizer{pool: pool, opts: opts, log: log}
}

// Recognize reads one region with an engine borrowed from the pool.
//
// Engine failures are reported through the returned cell's Status and Err;
// only a closed pool is an error.
func (r *Recognizer) Recognize(region CellRegion) (RecognizedCell, error) {
	if cell, done := r.precheck(region); done {
		return cell, nil
	}

	engine, err := r.pool.Acquire()
	if err != nil {
		return RecognizedCell{}, err
	}
	defer r.pool.Release(engine)

	return r.read(engine, region), nil
}

// RecognizeAll reads every region on a bounded set of workers.
//
// Each worker holds one engine from the pool for its whole lifetime.
// Results are indexed like regions, whatever order the workers finish in.
// The returned error wraps ErrAllCellsFailed when at least one cell
// reached the engine and none succeeded.
func (r *Recognizer) RecognizeAll(regions []CellRegion) ([]RecognizedCell, error) {
	results := make([]RecognizedCell, len(regions))

	var pending []int
	for i, region := range regions {
		if cell, done := r.precheck(region); done {
			results[i] = cell
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return results, nil
	}

	workers := min(r.opts.WorkerCount(), r.pool.Size(), len(pending))
	jobs := make(chan int)
	errChan := make(chan error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			engine, err := r.pool.Acquire()
			if err != nil {
				errChan <- err
				// Keep draining so the producer never blocks.
				for range jobs {
				}
				return
			}
			defer r.pool.Release(engine)

			for i := range jobs {
				results[i] = r.read(engine, regions[i])
			}
		}()
	}

	for _, i := range pending {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, fmt.Errorf("failed to acquire OCR engine: %w", err)
	}

	failed := 0
	var firstErr error
	for _, i := range pending {
		if results[i].Status == StatusFailed {
			failed++
			if firstErr == nil {
				firstErr = results[i].Err
			}
		}
	}
	if failed == len(pending) {
		return nil, fmt.Errorf("%w (%d cells): %w", ErrAllCellsFailed, failed, firstErr)
	}

	return results, nil
}

// precheck settles regions that need no engine call.
func (r *Recognizer) precheck(region CellRegion) (RecognizedCell, bool) {
	cell := RecognizedCell{Row: region.Row, Col: region.Col}

	if region.Degenerate {
		cell.Status = StatusDegenerate
		cell.Err = region.Err
		return cell, true
	}

	if region.Source() == nil {
		cell.Status = StatusFailed
		cell.Err = fmt.Errorf("cell row %d col %d has no source image", region.Row, region.Col)
		return cell, true
	}

	if r.opts.SkipBlank {
		if g := region.Source().Gray(); g != nil && imaging.InkCount(g, region.Rect) == 0 {
			cell.Status = StatusBlank
			return cell, true
		}
	}

	return cell, false
}

// read prepares the cell image, runs the engine and applies the
// acceptance rules.
func (r *Recognizer) read(engine ocr.Engine, region CellRegion) RecognizedCell {
	cell := RecognizedCell{Row: region.Row, Col: region.Col}

	img, err := imaging.CropCell(region.Source(), region.Rect, imaging.CellImageOptions{
		Scale:  r.opts.Scale,
		Border: r.opts.Border,
	})
	if err != nil {
		cell.Status = StatusFailed
		cell.Err = err
		r.log.Warn().Err(err).Int("row", region.Row).Int("col", region.Col).Msg("Failed to prepare cell image")
		return cell
	}

	res, err := engine.Recognize(img)
	if err != nil {
		cell.Status = StatusFailed
		cell.Err = err
		r.log.Warn().Err(err).Int("row", region.Row).Int("col", region.Col).Msg("OCR failed for cell")
		return cell
	}

	text := CleanText(res.Text)
	cell.Confidence = res.Confidence

	switch {
	case utf8.RuneCountInString(text) < max(r.opts.MinRunes, 1):
		cell.Status = StatusEmpty
	case res.Confidence < r.opts.ConfidenceFloor:
		cell.Status = StatusLowConfidence
		r.log.Debug().
			Int("row", region.Row).
			Int("col", region.Col).
			Str("text", text).
			Float64("confidence", res.Confidence).
			Msg("Discarding low-confidence cell text")
	default:
		cell.Status = StatusOK
		cell.Text = text
	}

	return cell
}

var lineBreaks = regexp.MustCompile(`\s*[\r\n]+\s*`)

// CleanText trims s and collapses every run of line breaks, with the
// whitespace around it, into a single space.
func CleanText(s string) string {
	return lineBreaks.ReplaceAllString(strings.TrimSpace(s), " ")
}
