// Package formats holds the static table of image formats accepted as
// conversion inputs and outputs.
package formats

import (
	"path/filepath"
	"strings"
)

// Unknown is reported when a format cannot be determined.
const Unknown = "unknown"

var (
	inputFormats = []string{
		"jpg", "jpeg", "png", "gif", "bmp", "tiff", "tif",
		"webp", "svg", "ico", "psd", "heic", "heif", "avif",
	}
	outputFormats = []string{
		"jpg", "jpeg", "png", "gif", "bmp", "tiff", "webp",
		"svg", "ico", "avif",
	}

	inputSet  = toSet(inputFormats)
	outputSet = toSet(outputFormats)
)

// Normalize lower-cases a format string and strips a leading dot.
func Normalize(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	return strings.TrimPrefix(format, ".")
}

// FromPath derives a normalized format from a file name extension.
func FromPath(path string) string {
	return Normalize(filepath.Ext(path))
}

func IsSupportedInput(format string) bool {
	return inputSet[Normalize(format)]
}

func IsSupportedOutput(format string) bool {
	return outputSet[Normalize(format)]
}

// IsJPEG reports whether format belongs to the JPEG family.
func IsJPEG(format string) bool {
	switch Normalize(format) {
	case "jpg", "jpeg":
		return true
	default:
		return false
	}
}

// Inputs returns the supported input formats in table order.
func Inputs() []string {
	return append([]string(nil), inputFormats...)
}

// Outputs returns the supported output formats in table order.
func Outputs() []string {
	return append([]string(nil), outputFormats...)
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
