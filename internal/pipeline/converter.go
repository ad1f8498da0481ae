package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/timetable-ocr/internal/detection"
	"github.com/ironsheep/timetable-ocr/internal/imaging"
	"github.com/ironsheep/timetable-ocr/internal/ocr"
	"github.com/ironsheep/timetable-ocr/internal/table"
)

// errClosed is returned by conversions started after Close.
var errClosed = errors.New("converter closed")

// Config gathers the tunables of every stage.
type Config struct {
	Preprocess imaging.PreprocessOptions `yaml:"preprocess" json:"preprocess"`
	Grid       detection.Options         `yaml:"grid" json:"grid"`
	Segment    table.SegmentOptions      `yaml:"segment" json:"segment"`
	Recognize  table.RecognizeOptions    `yaml:"recognize" json:"recognize"`

	// OCR is configured in its own top-level section of the config file.
	OCR ocr.Options `yaml:"-" json:"ocr"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Preprocess: imaging.DefaultPreprocessOptions(),
		Grid:       detection.DefaultOptions(),
		Segment:    table.DefaultSegmentOptions(),
		Recognize:  table.DefaultRecognizeOptions(),
		OCR:        ocr.DefaultOptions(),
	}
}

// Option customizes a Converter.
type Option func(*Converter)

// WithEngineFactory replaces the engine built from Config.OCR.
func WithEngineFactory(f ocr.Factory) Option {
	return func(c *Converter) { c.factory = f }
}

// WithLogger sets the logger used for stage timings and cell warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Converter) { c.log = l }
}

// Timings records how long each stage of one conversion took.
type Timings struct {
	Load       time.Duration `json:"load"`
	Preprocess time.Duration `json:"preprocess"`
	Detect     time.Duration `json:"detect"`
	Recognize  time.Duration `json:"recognize"`
	Total      time.Duration `json:"total"`
}

// Result is a conversion with everything that led to the table.
type Result struct {
	Table   table.Table            `json:"timetable"`
	Lines   *detection.LineSet     `json:"grid"`
	Cells   []table.RecognizedCell `json:"cells"`
	Timings Timings                `json:"timings"`
}

// Converter turns timetable screenshots into tables.
//
// A Converter is safe for concurrent use. OCR engines are created on the
// first conversion and kept in a pool sized by Recognize.Workers until
// Close.
type Converter struct {
	cfg      Config
	detector *detection.GridDetector
	factory  ocr.Factory
	log      zerolog.Logger

	mu     sync.Mutex
	pool   *ocr.Pool
	closed bool
}

// New creates a Converter.
func New(cfg Config, opts ...Option) (*Converter, error) {
	c := &Converter{
		cfg:      cfg,
		detector: detection.NewGridDetector(cfg.Grid),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.factory == nil {
		factory, err := ocr.NewFactory(cfg.OCR)
		if err != nil {
			return nil, newError(KindEngine, "configure", err)
		}
		c.factory = factory
	}

	return c, nil
}

// Config returns the converter's settings.
func (c *Converter) Config() Config { return c.cfg }

// Convert reads the timetable in the image at path.
//
// On failure the error is a *Error and no table is returned.
func (c *Converter) Convert(path string) (table.Table, error) {
	res, err := c.ConvertDetailed(path)
	if err != nil {
		return nil, err
	}
	return res.Table, nil
}

// ConvertDetailed is Convert plus the detected grid, per-cell results and
// stage timings.
func (c *Converter) ConvertDetailed(path string) (*Result, error) {
	start := time.Now()
	var timings Timings

	raster, err := imaging.Load(path)
	if err != nil {
		return nil, newError(KindDecode, "load", err)
	}
	timings.Load = time.Since(start)

	mark := time.Now()
	normalized := imaging.Normalize(raster, c.cfg.Preprocess)
	timings.Preprocess = time.Since(mark)

	mark = time.Now()
	lines, err := c.detector.Detect(normalized)
	if err != nil {
		return nil, newError(KindGridNotFound, "detect", err)
	}
	timings.Detect = time.Since(mark)

	mark = time.Now()
	res, err := c.run(normalized, lines)
	if err != nil {
		return nil, err
	}
	timings.Recognize = time.Since(mark)
	timings.Total = time.Since(start)
	res.Timings = timings

	c.log.Debug().
		Str("path", path).
		Int("rows", lines.RowCount()).
		Int("columns", lines.ColumnCount()).
		Dur("load", timings.Load).
		Dur("preprocess", timings.Preprocess).
		Dur("detect", timings.Detect).
		Dur("recognize", timings.Recognize).
		Dur("total", timings.Total).
		Msg("Converted timetable")

	return res, nil
}

// Prepare loads and normalizes the image at path without detecting or
// reading anything.
func (c *Converter) Prepare(path string) (*imaging.RasterImage, error) {
	raster, err := imaging.Load(path)
	if err != nil {
		return nil, newError(KindDecode, "load", err)
	}
	return imaging.Normalize(raster, c.cfg.Preprocess), nil
}

// DetectGrid returns the grid of the image at path. Boundaries are in
// working-resolution pixels, the coordinates of Prepare's output.
func (c *Converter) DetectGrid(path string) (*detection.LineSet, error) {
	normalized, err := c.Prepare(path)
	if err != nil {
		return nil, err
	}
	return c.Detect(normalized)
}

// Detect finds the grid of an image already returned by Prepare.
func (c *Converter) Detect(normalized *imaging.RasterImage) (*detection.LineSet, error) {
	lines, err := c.detector.Detect(normalized)
	if err != nil {
		return nil, newError(KindGridNotFound, "detect", err)
	}
	return lines, nil
}

// run segments, recognizes and assembles a normalized image along lines.
// lines is used as given, so tests can inject boundaries that detection
// would never produce.
func (c *Converter) run(img *imaging.RasterImage, lines *detection.LineSet) (*Result, error) {
	regions := table.Segment(img, lines, c.cfg.Segment)

	degenerate := 0
	for _, r := range regions {
		if r.Degenerate {
			degenerate++
			c.log.Debug().Err(r.Err).Int("row", r.Row).Int("col", r.Col).Msg("Degenerate cell recorded as empty")
		}
	}

	pool, err := c.enginePool()
	if err != nil {
		return nil, newError(KindEngine, "recognize", err)
	}

	cells, err := table.NewRecognizer(pool, c.cfg.Recognize, c.log).RecognizeAll(regions)
	if err != nil {
		if errors.Is(err, table.ErrAllCellsFailed) {
			return nil, newError(KindRecognition, "recognize", err)
		}
		return nil, newError(KindEngine, "recognize", err)
	}

	tbl, err := table.Assemble(cells, lines.RowCount(), lines.ColumnCount())
	if err != nil {
		return nil, newError(KindIncompleteTable, "assemble", err)
	}

	if degenerate > 0 {
		c.log.Info().Int("cells", degenerate).Msg("Some cells were too small to read")
	}

	return &Result{Table: tbl, Lines: lines, Cells: cells}, nil
}

// enginePool creates the engine pool on first use.
func (c *Converter) enginePool() (*ocr.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}
	if c.pool != nil {
		return c.pool, nil
	}

	pool, err := ocr.NewPool(c.factory, c.cfg.Recognize.WorkerCount())
	if err != nil {
		return nil, fmt.Errorf("failed to start OCR engines: %w", err)
	}
	c.log.Debug().Int("engines", pool.Size()).Msg("OCR engine pool ready")
	c.pool = pool
	return pool, nil
}

// Close releases the OCR engines. Conversions must not be running.
func (c *Converter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.pool == nil {
		return nil
	}
	return c.pool.Close()
}
