package server

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ironsheep/timetable-ocr/internal/ocr"
	"github.com/ironsheep/timetable-ocr/internal/pipeline"
)

var testMCPImpl = &mcp.Implementation{Name: "timetable-ocr-test", Version: "0.1.0"}

// letterEngine reads every cell as the same letter.
type letterEngine struct{}

func (letterEngine) Recognize(image.Image) (ocr.Result, error) {
	return ocr.Result{Text: "A", Confidence: 0.9}, nil
}

func (letterEngine) Close() error { return nil }

// createTestImageFile writes an image file and returns its path
func createTestImageFile(t *testing.T, img image.Image) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "timetable.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

// gridImage draws a 2x2 table with a mark in every cell.
func gridImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 161, 101))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	for _, y := range []int{0, 50, 100} {
		for x := 0; x < 161; x++ {
			img.Set(x, y, color.Black)
		}
	}
	for _, x := range []int{0, 80, 160} {
		for y := 0; y < 101; y++ {
			img.Set(x, y, color.Black)
		}
	}
	for _, c := range []image.Point{{40, 25}, {120, 25}, {40, 75}, {120, 75}} {
		draw.Draw(img, image.Rect(c.X-4, c.Y-4, c.X+4, c.Y+4), image.Black, image.Point{}, draw.Src)
	}
	return img
}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	return connect(t, newTestServer(t))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	conv, err := pipeline.New(pipeline.DefaultConfig(), pipeline.WithEngineFactory(func() (ocr.Engine, error) {
		return letterEngine{}, nil
	}))
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	t.Cleanup(func() { conv.Close() })

	return New(conv, "test", zerolog.Nop())
}

func connect(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.MCP().Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

// callToolJSON calls a tool that must succeed and decodes its JSON reply.
func callToolJSON(t *testing.T, session *mcp.ClientSession, name string, args any, out any) {
	t.Helper()
	result := callTool(t, session, name, args)
	text := resultText(t, result)
	if result.IsError {
		t.Fatalf("CallTool(%s) tool error: %s", name, text)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("CallTool(%s): invalid JSON: %v\n%s", name, err, text)
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func TestListTools(t *testing.T) {
	session := mcpSession(t)

	res, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	want := []string{"image_load", "timetable_convert", "timetable_detect_grid", "timetable_grid_overlay"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("tools: got %v, want %v", names, want)
	}
}

func TestGetToolDefinitions_Schemas(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Description == "" {
				t.Error("description should be set")
			}
			schema, ok := tool.InputSchema.(map[string]interface{})
			if !ok {
				t.Fatalf("schema: got %T", tool.InputSchema)
			}
			required, _ := schema["required"].([]string)
			if len(required) != 1 || required[0] != "path" {
				t.Errorf("required: got %v, want [path]", required)
			}
		})
	}
}

func TestTimetableConvert(t *testing.T) {
	session := mcpSession(t)
	path := createTestImageFile(t, gridImage())

	var res ConvertResult
	callToolJSON(t, session, "timetable_convert", map[string]any{"path": path}, &res)

	want := [][]string{{"A", "A"}, {"A", "A"}}
	if !reflect.DeepEqual([][]string(res.Timetable), want) {
		t.Errorf("timetable: got %v, want %v", res.Timetable, want)
	}
	if res.Rows != 2 || res.Columns != 2 || res.EmptyCells != 0 {
		t.Errorf("shape: got %dx%d with %d empty", res.Rows, res.Columns, res.EmptyCells)
	}
	if res.Grid != nil || res.Cells != nil {
		t.Error("detail should be omitted unless requested")
	}
}

func TestTimetableConvert_Detail(t *testing.T) {
	session := mcpSession(t)
	path := createTestImageFile(t, gridImage())

	var res ConvertResult
	callToolJSON(t, session, "timetable_convert", map[string]any{"path": path, "detail": true}, &res)

	if res.Grid == nil {
		t.Fatal("grid should be included")
	}
	if !reflect.DeepEqual(res.Grid.Rows, []int{0, 50, 100}) || !reflect.DeepEqual(res.Grid.Columns, []int{0, 80, 160}) {
		t.Errorf("grid: got rows %v columns %v", res.Grid.Rows, res.Grid.Columns)
	}
	if len(res.Cells) != 4 {
		t.Errorf("cells: got %d, want 4", len(res.Cells))
	}
	if res.Timings["total"] == "" {
		t.Error("timings should be included")
	}
}

func TestTimetableConvert_Errors(t *testing.T) {
	session := mcpSession(t)

	blank := image.NewRGBA(image.Rect(0, 0, 120, 80))
	draw.Draw(blank, blank.Bounds(), image.White, image.Point{}, draw.Src)
	blankPath := createTestImageFile(t, blank)

	corrupt := filepath.Join(t.TempDir(), "corrupt.png")
	os.WriteFile(corrupt, []byte("not a png"), 0644)

	tests := []struct {
		name    string
		args    map[string]any
		wantMsg string
	}{
		{"no table", map[string]any{"path": blankPath}, "no table detected"},
		{"corrupt", map[string]any{"path": corrupt}, "could not be decoded"},
		{"missing path", map[string]any{}, "path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, session, "timetable_convert", tt.args)
			if !result.IsError {
				t.Fatal("expected a tool error")
			}
			if text := resultText(t, result); !strings.Contains(text, tt.wantMsg) {
				t.Errorf("error text %q should contain %q", text, tt.wantMsg)
			}
		})
	}
}

func TestTimetableDetectGrid(t *testing.T) {
	session := mcpSession(t)
	path := createTestImageFile(t, gridImage())

	var res struct {
		Rows         []int `json:"rows"`
		Columns      []int `json:"columns"`
		TableRows    int   `json:"table_rows"`
		TableColumns int   `json:"table_columns"`
		Width        int   `json:"image_width"`
	}
	callToolJSON(t, session, "timetable_detect_grid", map[string]any{"path": path}, &res)

	if !reflect.DeepEqual(res.Rows, []int{0, 50, 100}) {
		t.Errorf("rows: got %v", res.Rows)
	}
	if !reflect.DeepEqual(res.Columns, []int{0, 80, 160}) {
		t.Errorf("columns: got %v", res.Columns)
	}
	if res.TableRows != 2 || res.TableColumns != 2 {
		t.Errorf("table shape: got %dx%d, want 2x2", res.TableRows, res.TableColumns)
	}
	if res.Width != 161 {
		t.Errorf("image width: got %d, want 161", res.Width)
	}
}

func TestImageLoad(t *testing.T) {
	session := mcpSession(t)
	path := createTestImageFile(t, gridImage())

	var res struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Format string `json:"format"`
	}
	callToolJSON(t, session, "image_load", map[string]any{"path": path}, &res)

	if res.Width != 161 || res.Height != 101 || res.Format != "png" {
		t.Errorf("got %+v, want 161x101 png", res)
	}
}

func TestTimetableGridOverlay(t *testing.T) {
	session := mcpSession(t)
	path := createTestImageFile(t, gridImage())

	var res struct {
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		ImageBase64 string `json:"image_base64"`
		MimeType    string `json:"mime_type"`
	}
	callToolJSON(t, session, "timetable_grid_overlay", map[string]any{"path": path, "row_color": "#00FF00", "labels": false}, &res)

	if res.Width != 161 || res.Height != 101 {
		t.Errorf("dimensions: got %dx%d, want 161x101", res.Width, res.Height)
	}
	if res.MimeType != "image/png" || res.ImageBase64 == "" {
		t.Errorf("payload: mime %q, %d base64 bytes", res.MimeType, len(res.ImageBase64))
	}
}

func TestToolCall_RefusedAfterDrain(t *testing.T) {
	srv := newTestServer(t)
	session := connect(t, srv)
	srv.drain()

	result := callTool(t, session, "timetable_convert", map[string]any{"path": createTestImageFile(t, gridImage())})
	if !result.IsError {
		t.Fatal("tool call after drain should fail")
	}
	if text := resultText(t, result); !strings.Contains(text, ErrShuttingDown.Error()) {
		t.Errorf("error text: got %q", text)
	}
}
