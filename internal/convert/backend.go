package convert

import "context"

// Metadata is the result of a decode probe.
type Metadata struct {
	Format     string
	Width      int
	Height     int
	Channels   int
	ColorSpace string
}

// Encoded is an encoded raster and its final dimensions.
type Encoded struct {
	Data   []byte
	Width  int
	Height int
}

// PrimaryBackend handles jpg, png, webp, tiff and avif. Probe failures
// are reported as KindDecode.
type PrimaryBackend interface {
	Prober
	Encode(ctx context.Context, data []byte, format string, quality int, resize *Resize) (Encoded, error)
}

// FallbackBackend handles the formats the primary backend cannot emit.
type FallbackBackend interface {
	Decode(ctx context.Context, data []byte) (RasterHandle, error)
}

// RasterHandle is a decoded image held by a FallbackBackend. Resize and
// SetQuality return the handle to allow chaining.
type RasterHandle interface {
	Resize(width, height int) RasterHandle
	SetQuality(quality int) RasterHandle
	Write(path, format string) error
	Width() int
	Height() int
}
