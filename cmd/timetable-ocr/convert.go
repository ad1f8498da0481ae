package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironsheep/timetable-ocr/internal/detection"
	"github.com/ironsheep/timetable-ocr/internal/imaging"
	"github.com/ironsheep/timetable-ocr/internal/logger"
	"github.com/ironsheep/timetable-ocr/internal/pipeline"
	"github.com/ironsheep/timetable-ocr/internal/table"
)

// convertOutput is printed by the convert command.
type convertOutput struct {
	Timetable table.Table `json:"timetable"`

	// Set with --verbose.
	Grid    *detection.LineSet     `json:"grid,omitempty"`
	Cells   []table.RecognizedCell `json:"cells,omitempty"`
	Timings *pipeline.Timings      `json:"timings,omitempty"`
}

func newConvertCmd(a *app) *cobra.Command {
	var (
		pretty  bool
		verbose bool
		overlay string
	)

	cmd := &cobra.Command{
		Use:   "convert <image>",
		Short: "Read a timetable screenshot and print it as JSON",
		Long: `Read a timetable screenshot and print {"timetable": [[...], ...]}.

Each inner array is one table row, left to right. Cells that could not be
read are empty strings.`,
		Example: `  # Print the table
  timetable-ocr convert week.png

  # Include grid boundaries, cell confidences and timings
  timetable-ocr convert week.png --verbose --pretty

  # Save an image showing the detected grid
  timetable-ocr convert week.png --overlay week-grid.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.WithComponent("convert")
			path := args[0]

			conv, err := a.newConverter()
			if err != nil {
				return err
			}
			defer conv.Close()

			res, err := conv.ConvertDetailed(path)
			if err != nil {
				log.Error().Err(err).Str("kind", string(pipeline.KindOf(err))).Str("path", path).Msg("Conversion failed")
				return err
			}

			if overlay != "" {
				if err := writeOverlay(conv, path, res.Lines, overlay); err != nil {
					return err
				}
				log.Info().Str("file", overlay).Msg("Grid overlay written")
			}

			out := convertOutput{Timetable: res.Table}
			if verbose {
				out.Grid = res.Lines
				out.Cells = res.Cells
				out.Timings = &res.Timings
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Include grid, per-cell status and timings")
	cmd.Flags().StringVar(&overlay, "overlay", "", "Write the preprocessed image with detected boundaries to this PNG file")
	return cmd
}

// writeOverlay draws lines on the preprocessed image and saves it as PNG.
func writeOverlay(conv *pipeline.Converter, path string, lines *detection.LineSet, out string) error {
	normalized, err := conv.Prepare(path)
	if err != nil {
		return err
	}
	img := imaging.BoundaryOverlay(normalized.Image(), lines.Rows, lines.Columns, imaging.OverlayOptions{Labels: true})
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("failed to write overlay: %w", err)
	}
	return nil
}
