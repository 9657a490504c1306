//go:build govips && cgo

package convert

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelconvert/internal/formats"
)

type govipsPrimary struct{}

func (govipsPrimary) Probe(ctx context.Context, data []byte) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return Metadata{}, wrapError(KindDecode, "probe", "unreadable image", err)
	}
	defer img.Close()

	return Metadata{
		Format:     vips.ImageTypes[img.Format()],
		Width:      img.Width(),
		Height:     img.Height(),
		Channels:   img.Bands(),
		ColorSpace: interpretationName(img.Interpretation()),
	}, nil
}

func (govipsPrimary) Encode(ctx context.Context, data []byte, format string, quality int, resize *Resize) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return Encoded{}, wrapError(KindDecode, "decode", "decode source image", err)
	}
	defer img.Close()

	if err := applyGovipsResize(img, resize); err != nil {
		return Encoded{}, err
	}

	out, err := exportGovipsImage(img, formats.Normalize(format), quality)
	if err != nil {
		return Encoded{}, err
	}

	return Encoded{Data: out, Width: img.Width(), Height: img.Height()}, nil
}

func applyGovipsResize(img *vips.ImageRef, resize *Resize) error {
	if resize == nil {
		return nil
	}
	if img.Width() <= 0 || img.Height() <= 0 {
		return newError(KindDecode, "resize", "source image has invalid dimensions")
	}

	w, h := resize.Dimensions(img.Width(), img.Height())
	if w == img.Width() && h == img.Height() {
		return nil
	}

	hscale := float64(w) / float64(img.Width())
	vscale := float64(h) / float64(img.Height())
	if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return wrapError(KindEncode, "resize", "resize image", err)
	}
	return nil
}

func exportGovipsImage(img *vips.ImageRef, format string, quality int) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case "jpg", "jpeg":
		params := vips.NewJpegExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err = img.ExportJpeg(params)
	case "png":
		params := vips.NewPngExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err = img.ExportPng(params)
	case "webp":
		params := vips.NewWebpExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err = img.ExportWebp(params)
	case "tiff", "tif":
		params := vips.NewTiffExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err = img.ExportTiff(params)
	case "avif":
		params := vips.NewAvifExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err = img.ExportAvif(params)
	default:
		return nil, newError(KindEncode, "encode", fmt.Sprintf("unsupported output format: %s", format))
	}
	if err != nil {
		return nil, wrapError(KindEncode, "encode", "encode "+format, err)
	}
	return data, nil
}

func interpretationName(in vips.Interpretation) string {
	switch in {
	case vips.InterpretationSRGB:
		return "srgb"
	case vips.InterpretationRGB16:
		return "rgb16"
	case vips.InterpretationBW:
		return "b-w"
	case vips.InterpretationGrey16:
		return "grey16"
	case vips.InterpretationCMYK:
		return "cmyk"
	default:
		return ""
	}
}
