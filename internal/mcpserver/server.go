// Package mcpserver exposes the converter as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/dunamismax/pixelconvert/internal/domain"
	"github.com/dunamismax/pixelconvert/internal/formats"
	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	ToolConvertImage   = "convert_image"
	ToolBatchConvert   = "batch_convert_images"
	ToolImageInfo      = "get_image_info"
	ToolListFormats    = "list_supported_formats"
	defaultServiceName = "pixelconvert"
)

type conversionService interface {
	Convert(ctx context.Context, req convert.Request) (convert.Result, error)
	Info(ctx context.Context, path string) (convert.ImageInfo, error)
}

type Server struct {
	converter conversionService
	runner    *convert.BatchRunner
	logger    *log.Logger
	mcp       *server.MCPServer
}

func New(converter conversionService, logger *log.Logger, version string) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if strings.TrimSpace(version) == "" {
		version = "dev"
	}

	s := &Server{
		converter: converter,
		runner:    convert.NewBatchRunner(converter, logger),
		logger:    logger,
		mcp:       server.NewMCPServer(defaultServiceName, version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio blocks until stdin closes or the process is signalled.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolConvertImage,
		mcp.WithDescription("Convert an image to another format, optionally resizing it"),
		mcp.WithString("input_path", mcp.Description("Path of the source image")),
		mcp.WithString("input_data", mcp.Description("Base64 image bytes, optionally as a data URI")),
		mcp.WithString("input_filename", mcp.Description("Original filename of input_data, used for format hints")),
		mcp.WithString("output_format", mcp.Required(), mcp.Description("Target format: "+strings.Join(formats.Outputs(), ", "))),
		mcp.WithNumber("quality", mcp.Min(1), mcp.Max(100), mcp.Description("Lossy quality, default 90")),
		mcp.WithNumber("width", mcp.Min(1), mcp.Description("Target width in pixels")),
		mcp.WithNumber("height", mcp.Min(1), mcp.Description("Target height in pixels")),
		mcp.WithBoolean("maintain_aspect_ratio", mcp.DefaultBool(true), mcp.Description("Fit inside width x height instead of stretching")),
		mcp.WithString("output_path", mcp.Description("Where to write the result")),
	), s.handleConvert)

	s.mcp.AddTool(mcp.NewTool(ToolBatchConvert,
		mcp.WithDescription("Convert several images with the same settings"),
		mcp.WithArray("input_paths", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Paths of the source images")),
		mcp.WithArray("inputs", mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":     map[string]any{"type": "string"},
				"data":     map[string]any{"type": "string"},
				"filename": map[string]any{"type": "string"},
			},
		}), mcp.Description("Inline inputs given as path or base64 data")),
		mcp.WithString("output_format", mcp.Required(), mcp.Description("Target format for every image")),
		mcp.WithNumber("quality", mcp.Min(1), mcp.Max(100)),
		mcp.WithNumber("width", mcp.Min(1)),
		mcp.WithNumber("height", mcp.Min(1)),
		mcp.WithBoolean("maintain_aspect_ratio", mcp.DefaultBool(true)),
		mcp.WithString("output_directory", mcp.Description("Directory for outputs, default beside each input")),
	), s.handleBatch)

	s.mcp.AddTool(mcp.NewTool(ToolImageInfo,
		mcp.WithDescription("Report format, dimensions and size of an image"),
		mcp.WithString("image_path", mcp.Required(), mcp.Description("Path of the image")),
	), s.handleInfo)

	s.mcp.AddTool(mcp.NewTool(ToolListFormats,
		mcp.WithDescription("List supported input and output formats"),
	), s.handleFormats)
}

func (s *Server) handleConvert(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req domain.ConvertRequest
	if err := bindArguments(request, &req); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := req.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.converter.Convert(ctx, req.ToConvert())
	if err != nil {
		return s.toolError(ToolConvertImage, err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Image converted\nOutput: %s\nSize: %s (%d bytes)\nDimensions: %dx%d\nFormat: %s",
		result.OutputPath,
		humanize.Bytes(uint64(max(result.FileSize, 0))),
		result.FileSize,
		result.Dimensions.Width,
		result.Dimensions.Height,
		result.Format,
	)), nil
}

func (s *Server) handleBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req domain.BatchConvertRequest
	if err := bindArguments(request, &req); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := req.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results := s.runner.ConvertAll(ctx, req.ToBatch())
	labels := req.Labels()
	succeeded := convert.Succeeded(results)

	var b strings.Builder
	fmt.Fprintf(&b, "Batch conversion finished\nSucceeded: %d / Failed: %d", succeeded, len(results)-succeeded)
	for i, r := range results {
		label := fmt.Sprintf("item %d", i)
		if i < len(labels) {
			label = labels[i]
		}
		if r.Success {
			fmt.Fprintf(&b, "\n✓ %s -> %s", label, r.OutputPath)
			continue
		}
		fmt.Fprintf(&b, "\n✗ %s: %s", label, r.Error)
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req domain.InfoRequest
	if err := bindArguments(request, &req); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := req.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	info, err := s.converter.Info(ctx, req.ImagePath)
	if err != nil {
		return s.toolError(ToolImageInfo, err), nil
	}

	space := info.ColorSpace
	if space == "" {
		space = "unknown"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Path: %s\nFormat: %s\nDimensions: %dx%d\nSize: %s (%d bytes)\nChannels: %d\nColor space: %s\nMIME type: %s",
		req.ImagePath,
		info.Format,
		info.Width,
		info.Height,
		humanize.Bytes(uint64(max(info.SizeBytes, 0))),
		info.SizeBytes,
		info.Channels,
		space,
		info.MIMEType,
	)), nil
}

func (s *Server) handleFormats(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf(
		"Supported formats\nInput: %s\nOutput: %s",
		strings.Join(formats.Inputs(), ", "),
		strings.Join(formats.Outputs(), ", "),
	)), nil
}

func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Printf("tool failed tool=%s kind=%s err=%v", tool, convert.KindOf(err), err)
	return mcp.NewToolResultError(err.Error())
}

// bindArguments decodes the loosely typed tool arguments into a request DTO.
func bindArguments(request mcp.CallToolRequest, into any) error {
	raw, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if string(raw) == "null" {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
