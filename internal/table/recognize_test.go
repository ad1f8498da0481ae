package table

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ironsheep/timetable-ocr/internal/detection"
	"github.com/ironsheep/timetable-ocr/internal/ocr"
)

// stubEngine answers with a function of the prepared cell image.
type stubEngine struct {
	fn    func(img image.Image) (ocr.Result, error)
	calls *atomic.Int32
	busy  atomic.Bool
	t     *testing.T
}

func (s *stubEngine) Recognize(img image.Image) (ocr.Result, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.t.Error("engine used by two goroutines at once")
	}
	defer s.busy.Store(false)
	if s.calls != nil {
		s.calls.Add(1)
	}
	return s.fn(img)
}

func (s *stubEngine) Close() error { return nil }

func stubPool(t *testing.T, size int, calls *atomic.Int32, fn func(image.Image) (ocr.Result, error)) *ocr.Pool {
	t.Helper()
	p, err := ocr.NewPool(func() (ocr.Engine, error) {
		return &stubEngine{fn: fn, calls: calls, t: t}, nil
	}, size)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// rawOptions skips scaling and borders so the engine sees the region as is.
func rawOptions() RecognizeOptions {
	opts := DefaultRecognizeOptions()
	opts.Scale = 1
	opts.Border = 0
	return opts
}

func TestRecognizeAll_PlacesByCoordinates(t *testing.T) {
	// Columns of distinct widths let the stub tell cells apart.
	lines := &detection.LineSet{Rows: []int{0, 40, 80, 120}, Columns: []int{0, 40, 100, 180}, Width: 181, Height: 121}
	img := gridImage(181, 121, lines.Rows, lines.Columns)
	regions := Segment(img, lines, DefaultSegmentOptions())

	pool := stubPool(t, 3, nil, func(img image.Image) (ocr.Result, error) {
		return ocr.Result{Text: fmt.Sprintf("w%d", img.Bounds().Dx()), Confidence: 0.9}, nil
	})
	opts := rawOptions()
	opts.Workers = 8
	rec := NewRecognizer(pool, opts, zerolog.Nop())

	cells, err := rec.RecognizeAll(regions)
	if err != nil {
		t.Fatalf("RecognizeAll failed: %v", err)
	}
	if len(cells) != len(regions) {
		t.Fatalf("cells: got %d, want %d", len(cells), len(regions))
	}

	for i, c := range cells {
		r := regions[i]
		if c.Row != r.Row || c.Col != r.Col {
			t.Errorf("cell %d: got (%d,%d), want (%d,%d)", i, c.Row, c.Col, r.Row, r.Col)
		}
		if want := fmt.Sprintf("w%d", r.Rect.Dx()); c.Text != want {
			t.Errorf("cell (%d,%d): got %q, want %q", c.Row, c.Col, c.Text, want)
		}
		if c.Status != StatusOK {
			t.Errorf("cell (%d,%d) status: got %s, want ok", c.Row, c.Col, c.Status)
		}
	}

	table, err := Assemble(cells, lines.RowCount(), lines.ColumnCount())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	for _, row := range table {
		if row[0] != "w34" || row[1] != "w54" || row[2] != "w74" {
			t.Errorf("row: got %v, want [w34 w54 w74]", row)
		}
	}
}

func TestRecognize_Acceptance(t *testing.T) {
	tests := []struct {
		name       string
		result     ocr.Result
		err        error
		wantText   string
		wantStatus Status
	}{
		{"clean", ocr.Result{Text: "MON", Confidence: 0.92}, nil, "MON", StatusOK},
		{"trimmed", ocr.Result{Text: "  09:00\n", Confidence: 0.8}, nil, "09:00", StatusOK},
		{"line breaks joined", ocr.Result{Text: "Room\n\n 101 \r\nA", Confidence: 0.8}, nil, "Room 101 A", StatusOK},
		{"nothing read", ocr.Result{Text: " \n ", Confidence: 0}, nil, "", StatusEmpty},
		{"below floor", ocr.Result{Text: "TUE", Confidence: 0.1}, nil, "", StatusLowConfidence},
		{"at floor", ocr.Result{Text: "TUE", Confidence: 0.3}, nil, "TUE", StatusOK},
		{"engine error", ocr.Result{}, errors.New("tesseract crashed"), "", StatusFailed},
	}

	lines := &detection.LineSet{Rows: []int{0, 50}, Columns: []int{0, 80}, Width: 81, Height: 51}
	img := gridImage(81, 51, lines.Rows, lines.Columns)
	region := Segment(img, lines, DefaultSegmentOptions())[0]

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := stubPool(t, 1, nil, func(image.Image) (ocr.Result, error) {
				return tt.result, tt.err
			})
			rec := NewRecognizer(pool, DefaultRecognizeOptions(), zerolog.Nop())

			cell, err := rec.Recognize(region)
			if err != nil {
				t.Fatalf("Recognize failed: %v", err)
			}
			if cell.Text != tt.wantText {
				t.Errorf("Text: got %q, want %q", cell.Text, tt.wantText)
			}
			if cell.Status != tt.wantStatus {
				t.Errorf("Status: got %s, want %s", cell.Status, tt.wantStatus)
			}
			if tt.err != nil && !errors.Is(cell.Err, tt.err) {
				t.Errorf("Err: got %v, want %v", cell.Err, tt.err)
			}
		})
	}
}

func TestRecognize_MinRunes(t *testing.T) {
	lines := &detection.LineSet{Rows: []int{0, 50}, Columns: []int{0, 80}, Width: 81, Height: 51}
	img := gridImage(81, 51, lines.Rows, lines.Columns)
	region := Segment(img, lines, DefaultSegmentOptions())[0]

	pool := stubPool(t, 1, nil, func(image.Image) (ocr.Result, error) {
		return ocr.Result{Text: "|", Confidence: 0.9}, nil
	})
	opts := DefaultRecognizeOptions()
	opts.MinRunes = 2
	rec := NewRecognizer(pool, opts, zerolog.Nop())

	cell, err := rec.Recognize(region)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if cell.Text != "" || cell.Status != StatusEmpty {
		t.Errorf("got %q (%s), want empty", cell.Text, cell.Status)
	}
}

func TestRecognizeAll_SkipsBlankAndDegenerate(t *testing.T) {
	lines := &detection.LineSet{Rows: []int{0, 50, 100}, Columns: []int{0, 80, 83, 160}, Width: 161, Height: 101}
	img := gridImage(161, 101, lines.Rows, lines.Columns)
	regions := Segment(img, lines, DefaultSegmentOptions())

	// Wipe the mark from cell (1,2) so it has no ink.
	g := img.Gray()
	r := regions[5].Rect
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			g.Pix[g.PixOffset(x, y)] = 255
		}
	}

	var calls atomic.Int32
	pool := stubPool(t, 2, &calls, func(image.Image) (ocr.Result, error) {
		return ocr.Result{Text: "X", Confidence: 1}, nil
	})
	rec := NewRecognizer(pool, DefaultRecognizeOptions(), zerolog.Nop())

	cells, err := rec.RecognizeAll(regions)
	if err != nil {
		t.Fatalf("RecognizeAll failed: %v", err)
	}

	// Two degenerate cells in column 1, one blank, three read.
	if got := calls.Load(); got != 3 {
		t.Errorf("engine calls: got %d, want 3", got)
	}
	for _, c := range cells {
		switch {
		case c.Col == 1:
			if c.Status != StatusDegenerate || c.Text != "" || !errors.Is(c.Err, ErrDegenerateCell) {
				t.Errorf("(%d,%d): got %q %s %v, want degenerate", c.Row, c.Col, c.Text, c.Status, c.Err)
			}
		case c.Row == 1 && c.Col == 2:
			if c.Status != StatusBlank || c.Text != "" {
				t.Errorf("(1,2): got %q %s, want blank", c.Text, c.Status)
			}
		default:
			if c.Status != StatusOK || c.Text != "X" {
				t.Errorf("(%d,%d): got %q %s, want X ok", c.Row, c.Col, c.Text, c.Status)
			}
		}
	}

	table, err := Assemble(cells, lines.RowCount(), lines.ColumnCount())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	want := Table{{"X", "", "X"}, {"X", "", ""}}
	for i := range want {
		for j := range want[i] {
			if table[i][j] != want[i][j] {
				t.Errorf("table[%d][%d]: got %q, want %q", i, j, table[i][j], want[i][j])
			}
		}
	}
}

func TestRecognizeAll_Failures(t *testing.T) {
	lines := &detection.LineSet{Rows: []int{0, 50, 100}, Columns: []int{0, 80, 160}, Width: 161, Height: 101}
	img := gridImage(161, 101, lines.Rows, lines.Columns)
	regions := Segment(img, lines, DefaultSegmentOptions())
	boom := errors.New("engine lost")

	t.Run("every call", func(t *testing.T) {
		pool := stubPool(t, 2, nil, func(image.Image) (ocr.Result, error) {
			return ocr.Result{}, boom
		})
		rec := NewRecognizer(pool, DefaultRecognizeOptions(), zerolog.Nop())

		// Settled cells do not count as successful reads.
		mixed := append([]CellRegion(nil), regions...)
		mixed[0].Degenerate = true
		mixed[0].Err = ErrDegenerateCell

		_, err := rec.RecognizeAll(mixed)
		if !errors.Is(err, ErrAllCellsFailed) {
			t.Fatalf("got %v, want ErrAllCellsFailed for every engine call failing", err)
		}
		if !errors.Is(err, boom) {
			t.Errorf("error should carry the engine failure, got %v", err)
		}
	})

	t.Run("one cell", func(t *testing.T) {
		var calls atomic.Int32
		pool := stubPool(t, 1, &calls, func(image.Image) (ocr.Result, error) {
			if calls.Load() == 1 {
				return ocr.Result{}, boom
			}
			return ocr.Result{Text: "ok", Confidence: 1}, nil
		})
		rec := NewRecognizer(pool, DefaultRecognizeOptions(), zerolog.Nop())

		cells, err := rec.RecognizeAll(regions)
		if err != nil {
			t.Fatalf("a single failed cell must not fail the run: %v", err)
		}
		failed := 0
		for _, c := range cells {
			if c.Status == StatusFailed {
				failed++
				if c.Text != "" {
					t.Errorf("failed cell should be empty, got %q", c.Text)
				}
			}
		}
		if failed != 1 {
			t.Errorf("failed cells: got %d, want 1", failed)
		}
	})

	t.Run("closed pool", func(t *testing.T) {
		pool := stubPool(t, 1, nil, func(image.Image) (ocr.Result, error) {
			return ocr.Result{Text: "x", Confidence: 1}, nil
		})
		pool.Close()
		rec := NewRecognizer(pool, DefaultRecognizeOptions(), zerolog.Nop())

		if _, err := rec.RecognizeAll(regions); !errors.Is(err, ocr.ErrPoolClosed) {
			t.Errorf("got %v, want ErrPoolClosed", err)
		}
	})
}

func TestRecognizeAll_Deterministic(t *testing.T) {
	lines := &detection.LineSet{Rows: []int{0, 30, 70, 120, 150}, Columns: []int{0, 50, 90, 160, 200}, Width: 201, Height: 151}
	img := gridImage(201, 151, lines.Rows, lines.Columns)
	regions := Segment(img, lines, DefaultSegmentOptions())

	pool := stubPool(t, 4, nil, func(img image.Image) (ocr.Result, error) {
		b := img.Bounds()
		return ocr.Result{Text: fmt.Sprintf("%dx%d", b.Dx(), b.Dy()), Confidence: 1}, nil
	})
	rec := NewRecognizer(pool, rawOptions(), zerolog.Nop())

	first, err := rec.RecognizeAll(regions)
	if err != nil {
		t.Fatalf("RecognizeAll failed: %v", err)
	}
	for run := 0; run < 10; run++ {
		again, err := rec.RecognizeAll(regions)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		for i := range first {
			if first[i].Text != again[i].Text || first[i].Row != again[i].Row || first[i].Col != again[i].Col {
				t.Fatalf("run %d cell %d differs: %+v vs %+v", run, i, first[i], again[i])
			}
		}
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"MON", "MON"},
		{"  MON  ", "MON"},
		{"MON\n", "MON"},
		{"Room\n101", "Room 101"},
		{"Room \n\n 101", "Room 101"},
		{"a\r\nb\rc", "a b c"},
		{"two  spaces", "two  spaces"},
		{"\n\n", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := CleanText(tt.in); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRecognizeOptions_WorkerCount(t *testing.T) {
	if got := (RecognizeOptions{Workers: 3}).WorkerCount(); got != 3 {
		t.Errorf("WorkerCount: got %d, want 3", got)
	}
	if got := (RecognizeOptions{}).WorkerCount(); got < 1 {
		t.Errorf("WorkerCount default: got %d, want >= 1", got)
	}
}
