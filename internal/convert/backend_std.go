package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/dunamismax/pixelconvert/internal/formats"
	"golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// stdPrimary is the pure-Go primary backend. It cannot encode webp or avif.
type stdPrimary struct{}

func (stdPrimary) Probe(ctx context.Context, data []byte) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, wrapError(KindDecode, "probe", "unreadable image", err)
	}

	channels, space := describeColorModel(cfg.ColorModel)
	return Metadata{
		Format:     format,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Channels:   channels,
		ColorSpace: space,
	}, nil
}

func (stdPrimary) Encode(ctx context.Context, data []byte, format string, quality int, resize *Resize) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}

	src, err := decodeStd(data)
	if err != nil {
		return Encoded{}, err
	}

	out := resizeStd(src, resize)
	encoded, err := encodeStd(out, formats.Normalize(format), quality)
	if err != nil {
		return Encoded{}, err
	}

	bounds := out.Bounds()
	return Encoded{Data: encoded, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

// stdFallback decodes into an in-memory raster handle.
type stdFallback struct{}

func (stdFallback) Decode(ctx context.Context, data []byte) (RasterHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := decodeStd(data)
	if err != nil {
		return nil, err
	}
	return &stdHandle{img: img}, nil
}

type stdHandle struct {
	img     image.Image
	quality int
}

func (h *stdHandle) Resize(width, height int) RasterHandle {
	bounds := h.img.Bounds()
	if width <= 0 || height <= 0 || (width == bounds.Dx() && height == bounds.Dy()) {
		return h
	}
	h.img = scaleStd(h.img, width, height)
	return h
}

func (h *stdHandle) SetQuality(quality int) RasterHandle {
	h.quality = quality
	return h
}

func (h *stdHandle) Width() int  { return h.img.Bounds().Dx() }
func (h *stdHandle) Height() int { return h.img.Bounds().Dy() }

func (h *stdHandle) Write(path, format string) error {
	data, err := encodeStd(h.img, formats.Normalize(format), h.quality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ioError("write output", path, err)
	}
	return nil
}

func decodeStd(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, wrapError(KindDecode, "decode", "decode source image", err)
	}
	return img, nil
}

func resizeStd(src image.Image, resize *Resize) image.Image {
	if resize == nil {
		return src
	}
	bounds := src.Bounds()
	w, h := resize.Dimensions(bounds.Dx(), bounds.Dy())
	if w == bounds.Dx() && h == bounds.Dy() {
		return src
	}
	return scaleStd(src, w, h)
}

func scaleStd(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func encodeStd(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case "jpg", "jpeg":
		if quality <= 0 || quality > 100 {
			quality = DefaultQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, wrapError(KindEncode, "encode", "encode jpeg", err)
		}
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, wrapError(KindEncode, "encode", "encode png", err)
		}
	case "tiff", "tif":
		if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return nil, wrapError(KindEncode, "encode", "encode tiff", err)
		}
	case "gif":
		if err := gif.Encode(&buf, img, &gif.Options{NumColors: 256}); err != nil {
			return nil, wrapError(KindEncode, "encode", "encode gif", err)
		}
	case "bmp":
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, wrapError(KindEncode, "encode", "encode bmp", err)
		}
	case "webp", "avif":
		return nil, newError(KindEncode, "encode", fmt.Sprintf("%s export requires the govips build tag", format))
	default:
		return nil, newError(KindEncode, "encode", fmt.Sprintf("unsupported output format: %s", format))
	}

	return buf.Bytes(), nil
}

func describeColorModel(model color.Model) (int, string) {
	if _, ok := model.(color.Palette); ok {
		return 3, "srgb"
	}
	switch model {
	case color.GrayModel, color.Gray16Model:
		return 1, "b-w"
	case color.CMYKModel:
		return 4, "cmyk"
	case color.YCbCrModel:
		return 3, "srgb"
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return 4, "srgb"
	default:
		return 0, ""
	}
}
