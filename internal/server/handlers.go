package server

import (
	"encoding/json"
	"fmt"

	"github.com/ironsheep/timetable-ocr/internal/detection"
	"github.com/ironsheep/timetable-ocr/internal/imaging"
	"github.com/ironsheep/timetable-ocr/internal/table"
)

// handlerFunc executes one tool. The result is returned to the client as
// JSON text.
type handlerFunc func(args json.RawMessage) (interface{}, error)

// handlers maps tool names to their implementation.
func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"timetable_convert":      s.handleConvert,
		"timetable_detect_grid":  s.handleDetectGrid,
		"image_load":             s.handleImageLoad,
		"timetable_grid_overlay": s.handleGridOverlay,
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decodeArgs unmarshals tool arguments and checks the image path.
func decodeArgs(args json.RawMessage, v interface{ path() string }) error {
	if len(args) > 0 {
		if err := json.Unmarshal(args, v); err != nil {
			return err
		}
	}
	if v.path() == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// === Conversion Handlers ===

type convertArgs struct {
	Path   string `json:"path"`
	Detail bool   `json:"detail"`
}

func (a *convertArgs) path() string { return a.Path }

// ConvertResult is the timetable_convert reply.
type ConvertResult struct {
	Timetable table.Table `json:"timetable"`
	Rows      int         `json:"rows"`
	Columns   int         `json:"columns"`

	// EmptyCells counts cells returned as "" for any reason.
	EmptyCells int `json:"empty_cells"`

	Grid    *detection.LineSet     `json:"grid,omitempty"`
	Cells   []table.RecognizedCell `json:"cells,omitempty"`
	Timings map[string]string      `json:"timings,omitempty"`
}

func (s *Server) handleConvert(args json.RawMessage) (interface{}, error) {
	var a convertArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	res, err := s.conv.ConvertDetailed(a.Path)
	if err != nil {
		return nil, err
	}

	out := &ConvertResult{
		Timetable: res.Table,
		Rows:      res.Table.Rows(),
		Columns:   res.Table.Columns(),
	}
	for _, row := range res.Table {
		for _, text := range row {
			if text == "" {
				out.EmptyCells++
			}
		}
	}

	if a.Detail {
		out.Grid = res.Lines
		out.Cells = res.Cells
		out.Timings = map[string]string{
			"load":       res.Timings.Load.String(),
			"preprocess": res.Timings.Preprocess.String(),
			"detect":     res.Timings.Detect.String(),
			"recognize":  res.Timings.Recognize.String(),
			"total":      res.Timings.Total.String(),
		}
	}

	s.log.Debug().Str("path", a.Path).Int("rows", out.Rows).Int("columns", out.Columns).Msg("timetable_convert")
	return out, nil
}

type detectGridArgs struct {
	Path string `json:"path"`
}

func (a *detectGridArgs) path() string { return a.Path }

// DetectGridResult is the timetable_detect_grid reply.
type DetectGridResult struct {
	*detection.LineSet
	TableRows    int `json:"table_rows"`
	TableColumns int `json:"table_columns"`
}

func (s *Server) handleDetectGrid(args json.RawMessage) (interface{}, error) {
	var a detectGridArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	lines, err := s.conv.DetectGrid(a.Path)
	if err != nil {
		return nil, err
	}
	return &DetectGridResult{
		LineSet:      lines,
		TableRows:    lines.RowCount(),
		TableColumns: lines.ColumnCount(),
	}, nil
}

// === Inspection Handlers ===

type imageLoadArgs struct {
	Path string `json:"path"`
}

func (a *imageLoadArgs) path() string { return a.Path }

func (s *Server) handleImageLoad(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(a.Path)
}

type gridOverlayArgs struct {
	Path        string `json:"path"`
	RowColor    string `json:"row_color"`
	ColumnColor string `json:"column_color"`
	Labels      *bool  `json:"labels"`
}

func (a *gridOverlayArgs) path() string { return a.Path }

func (s *Server) handleGridOverlay(args json.RawMessage) (interface{}, error) {
	var a gridOverlayArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Labels == nil {
		labels := true
		a.Labels = &labels
	}

	normalized, err := s.conv.Prepare(a.Path)
	if err != nil {
		return nil, err
	}
	lines, err := s.conv.Detect(normalized)
	if err != nil {
		return nil, err
	}

	overlay := imaging.BoundaryOverlay(normalized.Image(), lines.Rows, lines.Columns, imaging.OverlayOptions{
		RowColor:    a.RowColor,
		ColumnColor: a.ColumnColor,
		Labels:      *a.Labels,
	})
	return imaging.Encode(overlay)
}
