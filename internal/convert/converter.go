// Package convert turns an image from a path or an in-memory payload
// into a requested output format, optionally resized.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelconvert/internal/formats"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultQuality = 90
	// DefaultIconSize is used for ico output when no size was requested.
	DefaultIconSize = 32

	convertedSuffix = "_converted"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Request struct {
	Source       Source
	OutputFormat string
	// Quality 0 selects the converter default.
	Quality int `validate:"omitempty,min=1,max=100"`
	Width   int `validate:"omitempty,min=1"`
	Height  int `validate:"omitempty,min=1"`
	// IgnoreAspectRatio stretches to Width x Height when both are set.
	IgnoreAspectRatio bool
	// OutputPath wins over OutputDir. Without either the output is
	// written beside a path source, or in the staging directory.
	OutputPath string
	OutputDir  string
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Result struct {
	OutputPath string     `json:"output_path"`
	FileSize   int64      `json:"file_size"`
	Dimensions Dimensions `json:"dimensions"`
	Format     string     `json:"format"`
}

type ImageInfo struct {
	Format     string `json:"format"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Channels   int    `json:"channels"`
	SizeBytes  int64  `json:"size"`
	ColorSpace string `json:"space,omitempty"`
	MIMEType   string `json:"mime_type"`
}

type Options struct {
	Primary  PrimaryBackend
	Fallback FallbackBackend
	// StagingDir receives outputs of payload sources that have no output path.
	StagingDir     string
	DefaultQuality int
	Logger         *log.Logger
}

type Converter struct {
	primary        PrimaryBackend
	fallback       FallbackBackend
	resolver       InputResolver
	stagingDir     string
	defaultQuality int
	logger         *log.Logger
	tracer         trace.Tracer
}

// NewLocalConverter builds a converter on the backend selected at build time.
func NewLocalConverter(stagingDir string, logger *log.Logger) (*Converter, error) {
	return NewConverter(Options{StagingDir: stagingDir, Logger: logger})
}

func NewConverter(opts Options) (*Converter, error) {
	if opts.Primary == nil {
		primary, err := newPrimaryBackend()
		if err != nil {
			return nil, fmt.Errorf("build primary backend: %w", err)
		}
		opts.Primary = primary
	}
	if opts.Fallback == nil {
		opts.Fallback = stdFallback{}
	}
	if strings.TrimSpace(opts.StagingDir) == "" {
		opts.StagingDir = filepath.Join(os.TempDir(), "pixelconvert")
	}
	if opts.DefaultQuality <= 0 || opts.DefaultQuality > 100 {
		opts.DefaultQuality = DefaultQuality
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	return &Converter{
		primary:        opts.Primary,
		fallback:       opts.Fallback,
		resolver:       NewInputResolver(opts.Primary),
		stagingDir:     opts.StagingDir,
		defaultQuality: opts.DefaultQuality,
		logger:         opts.Logger,
		tracer:         otel.Tracer("pixelconvert/convert"),
	}, nil
}

// conversionJob is everything a strategy needs once the request is validated.
type conversionJob struct {
	input      Input
	format     string
	quality    int
	resize     *Resize
	outputPath string
}

func (c *Converter) Convert(ctx context.Context, req Request) (Result, error) {
	format := formats.Normalize(req.OutputFormat)

	ctx, span := c.tracer.Start(ctx, "convert.image")
	span.SetAttributes(attribute.String("convert.output_format", format))
	defer span.End()

	result, err := c.convert(ctx, req, format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("convert.output_path", result.OutputPath),
		attribute.Int64("convert.file_size", result.FileSize),
	)
	span.SetStatus(codes.Ok, "converted")
	return result, nil
}

func (c *Converter) convert(ctx context.Context, req Request, format string) (Result, error) {
	if !formats.IsSupportedOutput(format) {
		return Result{}, newError(KindUnsupportedOutputFormat, "validate request", fmt.Sprintf("unsupported output format: %s", req.OutputFormat))
	}
	if err := validate.Struct(req); err != nil {
		return Result{}, wrapError(KindInvalidRequest, "validate request", "invalid conversion request", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	input, err := c.resolver.Resolve(ctx, req.Source)
	if err != nil {
		return Result{}, err
	}
	if !formats.IsSupportedInput(input.Format) {
		return Result{}, newError(KindUnsupportedInputFormat, "validate input", fmt.Sprintf("unsupported input format: %s", input.Format))
	}
	if err := c.gateInput(ctx, input); err != nil {
		return Result{}, err
	}

	strat, ok := strategies[format]
	if !ok {
		return Result{}, newError(KindInternalDispatch, "dispatch", fmt.Sprintf("no encoding strategy for format: %s", format))
	}

	outputPath := c.outputPath(req, input, format)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return Result{}, ioError("create output dir", filepath.Dir(outputPath), err)
	}

	quality := req.Quality
	if quality == 0 {
		quality = c.defaultQuality
	}

	job := conversionJob{
		input:      input,
		format:     format,
		quality:    quality,
		resize:     ResolveResize(req.Width, req.Height, !req.IgnoreAspectRatio),
		outputPath: outputPath,
	}

	result, err := strat.run(c, ctx, job)
	if err != nil {
		return Result{}, fmt.Errorf("%s strategy: %w", strat.name, err)
	}

	c.logger.Printf(
		"converted output=%s format=%s strategy=%s bytes=%d dims=%dx%d",
		result.OutputPath,
		result.Format,
		strat.name,
		result.FileSize,
		result.Dimensions.Width,
		result.Dimensions.Height,
	)
	return result, nil
}

// gateInput rejects inputs that are recognized but cannot be decoded here.
func (c *Converter) gateInput(ctx context.Context, input Input) error {
	switch input.Format {
	case "heic", "heif":
		if _, err := c.primary.Probe(ctx, input.Data); err != nil {
			return wrapError(KindUnsupportedCodec, "validate input",
				"HEIC/HEIF decoding is not available in this environment; convert the image to JPG or PNG first", err)
		}
	case "psd":
		return newError(KindUnsupportedFormat, "validate input",
			"PSD input is not supported; export the image to JPG or PNG first")
	}
	return nil
}

func (c *Converter) outputPath(req Request, input Input, format string) string {
	if p := strings.TrimSpace(req.OutputPath); p != "" {
		return p
	}

	dir := strings.TrimSpace(req.OutputDir)
	if dir == "" {
		dir = input.Dir
	}
	if dir == "" {
		dir = c.stagingDir
	}
	return filepath.Join(dir, OutputFilename(input.Name, format))
}

// OutputFilename is the generated name for a converted file.
func OutputFilename(name, format string) string {
	return fmt.Sprintf("%s%s.%s", name, convertedSuffix, formats.Normalize(format))
}

// Info probes the image at path.
func (c *Converter) Info(ctx context.Context, path string) (ImageInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ImageInfo{}, &Error{Kind: KindInputNotFound, Op: "image info", Path: path, Message: "input file does not exist"}
		}
		return ImageInfo{}, ioError("image info", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ImageInfo{}, ioError("image info", path, err)
	}

	meta, err := c.primary.Probe(ctx, data)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("image info %s: %w", path, err)
	}

	format := formats.Normalize(meta.Format)
	if format == "" {
		format = formats.Unknown
	}
	return ImageInfo{
		Format:     format,
		Width:      meta.Width,
		Height:     meta.Height,
		Channels:   meta.Channels,
		SizeBytes:  stat.Size(),
		ColorSpace: meta.ColorSpace,
		MIMEType:   mimetype.Detect(data).String(),
	}, nil
}
