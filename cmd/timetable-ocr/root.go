package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ironsheep/timetable-ocr/internal/config"
	"github.com/ironsheep/timetable-ocr/internal/logger"
	"github.com/ironsheep/timetable-ocr/internal/ocr"
	"github.com/ironsheep/timetable-ocr/internal/pipeline"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config

	// factory replaces the configured OCR engine when set.
	factory ocr.Factory
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&app{})
}

func newRootCmdWith(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "timetable-ocr",
		Short: "Convert timetable screenshots into tables of text",
		Long: `timetable-ocr reads a screenshot of a timetable, finds its grid lines,
recognizes the text in every cell and prints the table as JSON.

It can also run as an HTTP upload service or as an MCP server for AI
assistants.

Environment variables (also read from a .env file):
  TIMETABLE_CONFIG             Path to a YAML config file
  TIMETABLE_OCR_ENGINE         tesseract (default) or vision
  TIMETABLE_OCR_LANGUAGE       Tesseract language, e.g. eng or eng+deu
  TIMETABLE_TESSDATA_PREFIX    Directory holding *.traineddata
  TIMETABLE_WORKERS            Concurrent OCR engines (default: CPU count)
  GOOGLE_APPLICATION_CREDENTIALS  Service account for the vision engine
  LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT, LOG_TIME_FORMAT`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Name() == "mcp")
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (default $TIMETABLE_CONFIG)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	root.AddCommand(newConvertCmd(a), newServeCmd(a), newMCPCmd(a))
	return root
}

// setup loads configuration and initializes logging. stdio keeps stdout
// free for a protocol stream.
func (a *app) setup(stdio bool) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if stdio && cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	return nil
}

// newConverter builds a converter from the loaded configuration.
func (a *app) newConverter() (*pipeline.Converter, error) {
	opts := []pipeline.Option{pipeline.WithLogger(logger.WithComponent("pipeline"))}
	if a.factory != nil {
		opts = append(opts, pipeline.WithEngineFactory(a.factory))
	}
	return pipeline.New(a.cfg.PipelineConfig(), opts...)
}
