package convert

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelconvert/internal/formats"
)

const defaultInputName = "image"

// Input is a source normalized to bytes plus a detected format.
type Input struct {
	Data   []byte
	Format string
	// Name is the base file name without extension, used for generated outputs.
	Name string
	// Dir is the directory of a path source. Empty for payloads.
	Dir string
}

// Prober reads image metadata without a full transform.
type Prober interface {
	Probe(ctx context.Context, data []byte) (Metadata, error)
}

type InputResolver struct {
	prober Prober
}

func NewInputResolver(prober Prober) InputResolver {
	return InputResolver{prober: prober}
}

func (r InputResolver) Resolve(ctx context.Context, src Source) (Input, error) {
	if err := ctx.Err(); err != nil {
		return Input{}, err
	}

	switch s := src.(type) {
	case BytesSource:
		if len(s.Data) == 0 {
			return Input{}, newError(KindMissingInput, "resolve input", "input payload is empty")
		}
		return r.fromPayload(ctx, s.Data, s.Filename), nil
	case EncodedSource:
		if strings.TrimSpace(s.Text) == "" {
			return Input{}, newError(KindMissingInput, "resolve input", "input payload is empty")
		}
		data, err := decodeText(s.Text)
		if err != nil {
			return Input{}, err
		}
		return r.fromPayload(ctx, data, s.Filename), nil
	case PathSource:
		if strings.TrimSpace(s.Path) == "" {
			return Input{}, newError(KindMissingInput, "resolve input", "input path is empty")
		}
		return readPath(s.Path)
	default:
		return Input{}, newError(KindMissingInput, "resolve input", "either an input path or an input payload is required")
	}
}

func (r InputResolver) fromPayload(ctx context.Context, data []byte, filename string) Input {
	in := Input{Data: data, Name: defaultInputName}
	if filename = strings.TrimSpace(filename); filename != "" {
		in.Name = baseName(filename)
		in.Format = formats.FromPath(filename)
	}
	if in.Format == "" {
		in.Format = r.detect(ctx, data)
	}
	return in
}

// detect trusts a successful probe, then falls back to magic numbers.
func (r InputResolver) detect(ctx context.Context, data []byte) string {
	if r.prober != nil {
		if meta, err := r.prober.Probe(ctx, data); err == nil && meta.Format != "" {
			return formats.Normalize(meta.Format)
		}
	}
	return sniffFormat(data)
}

func readPath(path string) (Input, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Input{}, &Error{Kind: KindInputNotFound, Op: "resolve input", Path: path, Message: "input file does not exist"}
		}
		return Input{}, ioError("resolve input", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, ioError("read input", path, err)
	}

	return Input{
		Data:   data,
		Format: formats.FromPath(path),
		Name:   baseName(path),
		Dir:    filepath.Dir(path),
	}, nil
}

// decodeText strips anything up to the first comma and base64-decodes the rest.
func decodeText(text string) ([]byte, error) {
	if _, payload, ok := strings.Cut(text, ","); ok {
		text = payload
	}
	text = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, text)

	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, wrapError(KindInputDecode, "decode input", "input payload is not valid base64", err)
	}
	if len(data) == 0 {
		return nil, newError(KindMissingInput, "decode input", "input payload is empty")
	}
	return data, nil
}

func baseName(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return defaultInputName
	}
	return name
}

type signature struct {
	format string
	match  func(header []byte) bool
}

// signatures is checked in order; the first match wins.
var signatures = []signature{
	{"png", prefix([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})},
	{"jpeg", prefix([]byte{0xFF, 0xD8, 0xFF})},
	{"gif", func(h []byte) bool {
		return bytes.HasPrefix(h, []byte("GIF87a")) || bytes.HasPrefix(h, []byte("GIF89a"))
	}},
	{"webp", func(h []byte) bool {
		return len(h) >= 12 && bytes.Equal(h[0:4], []byte("RIFF")) && bytes.Equal(h[8:12], []byte("WEBP"))
	}},
}

func prefix(magic []byte) func([]byte) bool {
	return func(h []byte) bool { return bytes.HasPrefix(h, magic) }
}

func sniffFormat(data []byte) string {
	header := data
	if len(header) > 12 {
		header = header[:12]
	}
	for _, sig := range signatures {
		if sig.match(header) {
			return sig.format
		}
	}
	return formats.Unknown
}
