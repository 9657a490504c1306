package convert

import "math"

// FitMode controls how a resize box is applied.
type FitMode int

const (
	// FitContain keeps the aspect ratio and fits inside the box. Enlargement is allowed.
	FitContain FitMode = iota
	// FitFill stretches to exactly the box.
	FitFill
)

func (m FitMode) String() string {
	switch m {
	case FitFill:
		return "fill"
	default:
		return "contain"
	}
}

// Resize is a resolved resize instruction. A zero Width or Height leaves
// that dimension to be derived from the source aspect ratio.
type Resize struct {
	Width  int
	Height int
	Fit    FitMode
}

// ResolveResize returns nil when no dimension was requested.
func ResolveResize(width, height int, maintainAspectRatio bool) *Resize {
	width, height = max(width, 0), max(height, 0)
	if width == 0 && height == 0 {
		return nil
	}

	fit := FitContain
	if width > 0 && height > 0 && !maintainAspectRatio {
		fit = FitFill
	}
	return &Resize{Width: width, Height: height, Fit: fit}
}

// Dimensions computes the output size for a source of srcW x srcH.
func (r *Resize) Dimensions(srcW, srcH int) (int, int) {
	if r == nil || srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}

	switch {
	case r.Width > 0 && r.Height > 0 && r.Fit == FitFill:
		return r.Width, r.Height
	case r.Width > 0 && r.Height > 0:
		scale := math.Min(float64(r.Width)/float64(srcW), float64(r.Height)/float64(srcH))
		return scaled(srcW, scale), scaled(srcH, scale)
	case r.Width > 0:
		return r.Width, scaled(srcH, float64(r.Width)/float64(srcW))
	default:
		return scaled(srcW, float64(r.Height)/float64(srcH)), r.Height
	}
}

func scaled(v int, scale float64) int {
	return max(1, int(math.Round(float64(v)*scale)))
}
