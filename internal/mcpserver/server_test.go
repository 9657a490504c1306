package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/mark3labs/mcp-go/mcp"
)

func TestConvertImageTool(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "photo.png")
	if err := os.WriteFile(input, buildTestPNG(t, 40, 20), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	s := newTestServer(t, tmp)
	result := callTool(t, s.handleConvert, map[string]any{
		"input_path":    input,
		"output_format": "jpeg",
		"width":         20,
	})

	if result.IsError {
		t.Fatalf("expected success, got %q", resultText(t, result))
	}
	text := resultText(t, result)
	for _, want := range []string{
		"Output: " + filepath.Join(tmp, "photo_converted.jpeg"),
		"Dimensions: 20x10",
		"Format: jpeg",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestConvertImageToolPayload(t *testing.T) {
	tmp := t.TempDir()
	s := newTestServer(t, tmp)

	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buildTestPNG(t, 16, 16))
	result := callTool(t, s.handleConvert, map[string]any{
		"input_data":     encoded,
		"input_filename": "upload.png",
		"output_format":  "gif",
	})

	if result.IsError {
		t.Fatalf("expected success, got %q", resultText(t, result))
	}
	if !strings.Contains(resultText(t, result), filepath.Join(tmp, "upload_converted.gif")) {
		t.Fatalf("expected staging output in %q", resultText(t, result))
	}
}

func TestConvertImageToolErrors(t *testing.T) {
	tmp := t.TempDir()
	s := newTestServer(t, tmp)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "no input",
			args: map[string]any{"output_format": "png"},
			want: "either input_path or input_data is required",
		},
		{
			name: "no output format",
			args: map[string]any{"input_path": "/tmp/a.png"},
			want: "output_format is required",
		},
		{
			name: "fractional quality",
			args: map[string]any{"input_path": "/tmp/a.png", "output_format": "png", "quality": 0.5},
			want: "invalid arguments",
		},
		{
			name: "missing file",
			args: map[string]any{"input_path": filepath.Join(tmp, "missing.png"), "output_format": "png"},
			want: "missing.png",
		},
		{
			name: "unsupported output",
			args: map[string]any{"input_path": filepath.Join(tmp, "a.png"), "output_format": "xyz"},
			want: "xyz",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := callTool(t, s.handleConvert, tc.args)
			if !result.IsError {
				t.Fatalf("expected tool error, got %q", resultText(t, result))
			}
			if !strings.Contains(resultText(t, result), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, resultText(t, result))
			}
		})
	}
}

func TestBatchConvertTool(t *testing.T) {
	tmp := t.TempDir()
	first := filepath.Join(tmp, "a.png")
	last := filepath.Join(tmp, "c.png")
	for _, path := range []string{first, last} {
		if err := os.WriteFile(path, buildTestPNG(t, 10, 10), 0o644); err != nil {
			t.Fatalf("write input: %v", err)
		}
	}
	missing := filepath.Join(tmp, "b.png")
	outDir := filepath.Join(tmp, "out")

	s := newTestServer(t, tmp)
	result := callTool(t, s.handleBatch, map[string]any{
		"input_paths":      []any{first, missing, last},
		"output_format":    "png",
		"output_directory": outDir,
	})

	if result.IsError {
		t.Fatalf("partial failure should not be a tool error: %q", resultText(t, result))
	}
	text := resultText(t, result)
	for _, want := range []string{
		"Succeeded: 2 / Failed: 1",
		"✓ " + first + " -> " + filepath.Join(outDir, "a_converted.png"),
		"✗ " + missing + ": ",
		"✓ " + last + " -> " + filepath.Join(outDir, "c_converted.png"),
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestBatchConvertToolAllFailed(t *testing.T) {
	tmp := t.TempDir()
	s := newTestServer(t, tmp)

	result := callTool(t, s.handleBatch, map[string]any{
		"inputs":        []any{map[string]any{"data": "!!!", "filename": "bad.png"}},
		"output_format": "png",
	})

	if result.IsError {
		t.Fatalf("batch failures belong in the summary, got tool error %q", resultText(t, result))
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Succeeded: 0 / Failed: 1") || !strings.Contains(text, "✗ bad.png: ") {
		t.Fatalf("unexpected summary %q", text)
	}
}

func TestBatchConvertToolRequiresInputs(t *testing.T) {
	s := newTestServer(t, t.TempDir())
	result := callTool(t, s.handleBatch, map[string]any{"output_format": "png"})
	if !result.IsError {
		t.Fatalf("expected validation error")
	}
}

func TestImageInfoTool(t *testing.T) {
	s := New(&stubService{
		info: convert.ImageInfo{
			Format:    "png",
			Width:     24,
			Height:    12,
			Channels:  4,
			SizeBytes: 2048,
			MIMEType:  "image/png",
		},
	}, nil, "test")

	result := callTool(t, s.handleInfo, map[string]any{"image_path": "/in/a.png"})
	if result.IsError {
		t.Fatalf("expected success, got %q", resultText(t, result))
	}
	text := resultText(t, result)
	for _, want := range []string{
		"Path: /in/a.png",
		"Dimensions: 24x12",
		"Size: 2.0 kB (2048 bytes)",
		"Channels: 4",
		"Color space: unknown",
		"MIME type: image/png",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestImageInfoToolError(t *testing.T) {
	var logs bytes.Buffer
	service := &stubService{err: errors.New("boom")}
	s := New(service, log.New(&logs, "", 0), "test")

	result := callTool(t, s.handleInfo, map[string]any{"image_path": "/in/a.png"})
	if !result.IsError {
		t.Fatalf("expected tool error")
	}
	if !strings.Contains(logs.String(), "tool=get_image_info") {
		t.Fatalf("expected failure log, got %q", logs.String())
	}

	result = callTool(t, s.handleInfo, map[string]any{})
	if !result.IsError || !strings.Contains(resultText(t, result), "image_path is required") {
		t.Fatalf("expected validation error, got %q", resultText(t, result))
	}
}

func TestListFormatsTool(t *testing.T) {
	s := New(&stubService{}, nil, "")
	result := callTool(t, s.handleFormats, nil)
	text := resultText(t, result)
	if !strings.Contains(text, "Input: jpg, jpeg, png") || !strings.Contains(text, "Output: jpg, jpeg, png") {
		t.Fatalf("unexpected formats text %q", text)
	}
}

func TestRegisteredTools(t *testing.T) {
	s := New(&stubService{}, nil, "test")
	response := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	for _, name := range []string{ToolConvertImage, ToolBatchConvert, ToolImageInfo, ToolListFormats} {
		if !strings.Contains(string(raw), `"name":"`+name+`"`) {
			t.Fatalf("tool %s not listed in %s", name, raw)
		}
	}
}

type stubService struct {
	info convert.ImageInfo
	err  error
}

func (s *stubService) Convert(context.Context, convert.Request) (convert.Result, error) {
	return convert.Result{}, s.err
}

func (s *stubService) Info(context.Context, string) (convert.ImageInfo, error) {
	return s.info, s.err
}

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func callTool(t *testing.T, handler toolHandler, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	var req mcp.CallToolRequest
	if args != nil {
		req.Params.Arguments = args
	}
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("tool handler returned error: %v", err)
	}
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	if len(result.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return text.Text
}

func newTestServer(t *testing.T, stagingDir string) *Server {
	t.Helper()

	converter, err := convert.NewLocalConverter(stagingDir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}
	return New(converter, log.New(io.Discard, "", 0), "test")
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 5), G: uint8(y * 7), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
