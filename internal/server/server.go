package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ironsheep/timetable-ocr/internal/detection"
	"github.com/ironsheep/timetable-ocr/internal/imaging"
	"github.com/ironsheep/timetable-ocr/internal/pipeline"
)

// Name is the implementation name reported to MCP clients.
const Name = "timetable-ocr"

// Converter is the part of pipeline.Converter the tools use.
type Converter interface {
	ConvertDetailed(path string) (*pipeline.Result, error)
	DetectGrid(path string) (*detection.LineSet, error)
	Prepare(path string) (*imaging.RasterImage, error)
	Detect(normalized *imaging.RasterImage) (*detection.LineSet, error)
}

// ErrShuttingDown is reported for tool calls that arrive after Run returned.
var ErrShuttingDown = errors.New("server is shutting down")

// Server exposes timetable conversion as MCP tools.
type Server struct {
	conv Converter
	mcp  *mcp.Server
	log  zerolog.Logger

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// New creates a new MCP server instance with every tool registered.
func New(conv Converter, version string, log zerolog.Logger) *Server {
	s := &Server{
		conv: conv,
		mcp:  mcp.NewServer(&mcp.Implementation{Name: Name, Version: version}, nil),
		log:  log,
	}

	handlers := s.handlers()
	for _, tool := range GetToolDefinitions() {
		handler, ok := handlers[tool.Name]
		if !ok {
			panic(fmt.Sprintf("server: no handler for tool %s", tool.Name))
		}
		s.mcp.AddTool(tool, s.wrap(tool.Name, handler))
	}

	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves MCP over stdin/stdout until the client disconnects or ctx is
// cancelled. Tool calls still running at that point are waited for, so the
// converter may be closed once Run returns.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Int("tools", len(GetToolDefinitions())).Msg("MCP server starting on stdio")
	defer s.drain()
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

// drain refuses new tool calls and waits for the running ones.
func (s *Server) drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.inflight.Wait()
}

// wrap adapts a handler to the SDK. Failures are reported as tool errors so
// the client sees the message rather than a protocol error.
func (s *Server) wrap(name string, h handlerFunc) mcp.ToolHandler {
	return func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}

		var (
			result interface{}
			err    error
		)
		if s.acquire() {
			result, err = h(args)
			s.inflight.Done()
		} else {
			err = ErrShuttingDown
		}
		if err != nil {
			s.log.Warn().Err(err).Str("tool", name).Str("kind", string(pipeline.KindOf(err))).Msg("Tool execution failed")
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: mustMarshalJSON(result)}},
		}, nil
	}
}
