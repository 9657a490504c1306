package convert

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dunamismax/pixelconvert/internal/formats"
)

type strategy struct {
	name string
	run  func(c *Converter, ctx context.Context, job conversionJob) (Result, error)
}

var (
	primaryStrategy  = strategy{name: "primary", run: (*Converter).encodePrimary}
	fallbackStrategy = strategy{name: "fallback", run: (*Converter).encodeFallback}
	svgStrategy      = strategy{name: "svg", run: (*Converter).encodeSVG}
	icoStrategy      = strategy{name: "ico", run: (*Converter).encodeICO}
)

// strategies maps every supported output format to its encoder.
var strategies = map[string]strategy{
	"jpg":  primaryStrategy,
	"jpeg": primaryStrategy,
	"png":  primaryStrategy,
	"webp": primaryStrategy,
	"tiff": primaryStrategy,
	"avif": primaryStrategy,
	"gif":  fallbackStrategy,
	"bmp":  fallbackStrategy,
	"svg":  svgStrategy,
	"ico":  icoStrategy,
}

// StrategyName reports which encoder handles format, or "" if none does.
func StrategyName(format string) string {
	return strategies[formats.Normalize(format)].name
}

func (c *Converter) encodePrimary(ctx context.Context, job conversionJob) (Result, error) {
	encoded, err := c.primary.Encode(ctx, job.input.Data, job.format, job.quality, job.resize)
	if err != nil {
		return Result{}, err
	}
	if err := os.WriteFile(job.outputPath, encoded.Data, 0o644); err != nil {
		return Result{}, ioError("write output", job.outputPath, err)
	}

	width, height := encoded.Width, encoded.Height
	if written, err := os.ReadFile(job.outputPath); err == nil {
		if meta, err := c.primary.Probe(ctx, written); err == nil {
			width, height = meta.Width, meta.Height
		}
	}

	return c.result(job, width, height)
}

func (c *Converter) encodeFallback(ctx context.Context, job conversionJob) (Result, error) {
	handle, err := c.fallback.Decode(ctx, job.input.Data)
	if err != nil {
		return Result{}, err
	}

	if job.resize != nil {
		handle = handle.Resize(job.resize.Dimensions(handle.Width(), handle.Height()))
	}
	if formats.IsJPEG(job.format) {
		handle = handle.SetQuality(job.quality)
	}
	if err := handle.Write(job.outputPath, job.format); err != nil {
		return Result{}, err
	}

	return c.result(job, handle.Width(), handle.Height())
}

const svgTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink">
  <image x="0" y="0" width="%d" height="%d" xlink:href="data:image/png;base64,%s"/>
</svg>
`

// encodeSVG embeds a PNG rendition in an svg envelope. Nothing is vectorized.
func (c *Converter) encodeSVG(ctx context.Context, job conversionJob) (Result, error) {
	raster, err := c.primary.Encode(ctx, job.input.Data, "png", 0, job.resize)
	if err != nil {
		return Result{}, err
	}

	doc := fmt.Sprintf(svgTemplate,
		raster.Width, raster.Height,
		raster.Width, raster.Height,
		base64.StdEncoding.EncodeToString(raster.Data),
	)
	if err := os.WriteFile(job.outputPath, []byte(doc), 0o644); err != nil {
		return Result{}, ioError("write output", job.outputPath, err)
	}

	return c.result(job, raster.Width, raster.Height)
}

// encodeICO writes a square PNG under the .ico path. The file holds PNG
// data, not a multi-resolution icon container. Bytes are staged in a
// uniquely named file next to the destination.
func (c *Converter) encodeICO(ctx context.Context, job conversionJob) (Result, error) {
	size := iconSize(job.resize)
	raster, err := c.primary.Encode(ctx, job.input.Data, "png", 0, &size)
	if err != nil {
		return Result{}, err
	}

	staged, err := os.CreateTemp(filepath.Dir(job.outputPath), ".icon-*.png")
	if err != nil {
		return Result{}, ioError("stage output", job.outputPath, err)
	}
	stagedPath := staged.Name()
	_, err = staged.Write(raster.Data)
	if closeErr := staged.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(stagedPath)
		return Result{}, ioError("write output", stagedPath, err)
	}
	if err := os.Chmod(stagedPath, 0o644); err != nil {
		_ = os.Remove(stagedPath)
		return Result{}, ioError("stage output", stagedPath, err)
	}
	if err := os.Rename(stagedPath, job.outputPath); err != nil {
		_ = os.Remove(stagedPath)
		return Result{}, ioError("rename output", job.outputPath, err)
	}

	return c.result(job, raster.Width, raster.Height)
}

// iconSize squares a single requested dimension and defaults to 32x32.
func iconSize(resize *Resize) Resize {
	w, h := DefaultIconSize, DefaultIconSize
	if resize != nil {
		switch {
		case resize.Width > 0 && resize.Height > 0:
			w, h = resize.Width, resize.Height
		case resize.Width > 0:
			w, h = resize.Width, resize.Width
		case resize.Height > 0:
			w, h = resize.Height, resize.Height
		}
	}
	return Resize{Width: w, Height: h, Fit: FitFill}
}

func (c *Converter) result(job conversionJob, width, height int) (Result, error) {
	stat, err := os.Stat(job.outputPath)
	if err != nil {
		return Result{}, ioError("stat output", job.outputPath, err)
	}
	return Result{
		OutputPath: job.outputPath,
		FileSize:   stat.Size(),
		Dimensions: Dimensions{Width: width, Height: height},
		Format:     job.format,
	}, nil
}
