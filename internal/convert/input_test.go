package convert

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePathSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Photo.PNG")
	data := buildTestPNG(t, 10, 10)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	in, err := NewInputResolver(stdPrimary{}).Resolve(context.Background(), PathSource{Path: path})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if in.Format != "png" || in.Name != "Photo" || in.Dir != dir {
		t.Fatalf("unexpected input: format=%s name=%s dir=%s", in.Format, in.Name, in.Dir)
	}
	if len(in.Data) != len(data) {
		t.Fatalf("expected %d bytes, got %d", len(data), len(in.Data))
	}
}

func TestResolveErrors(t *testing.T) {
	resolver := NewInputResolver(stdPrimary{})
	ctx := context.Background()

	tests := []struct {
		name string
		src  Source
		kind Kind
	}{
		{"nil source", nil, KindMissingInput},
		{"empty path", PathSource{}, KindMissingInput},
		{"empty bytes", BytesSource{Filename: "a.png"}, KindMissingInput},
		{"missing file", PathSource{Path: filepath.Join(t.TempDir(), "nope.png")}, KindInputNotFound},
		{"bad base64", EncodedSource{Text: "data:image/png;base64,@@not-base64@@"}, KindInputDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(ctx, tt.src)
			if !IsKind(err, tt.kind) {
				t.Fatalf("expected kind %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestResolvePayloadFormat(t *testing.T) {
	resolver := NewInputResolver(stdPrimary{})
	ctx := context.Background()
	png := buildTestPNG(t, 4, 4)

	in, err := resolver.Resolve(ctx, BytesSource{Data: png, Filename: "scan.HEIC"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if in.Format != "heic" || in.Name != "scan" {
		t.Fatalf("expected filename to drive format, got format=%s name=%s", in.Format, in.Name)
	}

	in, err = resolver.Resolve(ctx, EncodedSource{Text: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)})
	if err != nil {
		t.Fatalf("resolve encoded: %v", err)
	}
	if in.Format != "png" || in.Name != defaultInputName || in.Dir != "" {
		t.Fatalf("expected probed png payload, got format=%s name=%s dir=%s", in.Format, in.Name, in.Dir)
	}

	in, err = resolver.Resolve(ctx, EncodedSource{Text: base64.StdEncoding.EncodeToString(png)})
	if err != nil {
		t.Fatalf("resolve bare base64: %v", err)
	}
	if in.Format != "png" {
		t.Fatalf("expected png, got %s", in.Format)
	}
}

func TestResolveFallsBackToSignatures(t *testing.T) {
	// Valid magic numbers, truncated body: the probe fails but the header matches.
	webp := append([]byte("RIFF\x00\x00\x00\x00WEBP"), 0, 0)
	in, err := NewInputResolver(stdPrimary{}).Resolve(context.Background(), BytesSource{Data: webp})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if in.Format != "webp" {
		t.Fatalf("expected webp, got %s", in.Format)
	}
}

func TestSniffFormat(t *testing.T) {
	tests := map[string][]byte{
		"png":           {0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0},
		"jpeg":          {0xFF, 0xD8, 0xFF, 0xE0},
		"gif":           []byte("GIF89a......"),
		"webp":          []byte("RIFF1234WEBPVP8 "),
		"unknown":       []byte("RIFF1234WAVE"),
		"unknown-short": {0x01},
	}
	for name, header := range tests {
		want := name
		if name == "unknown-short" {
			want = "unknown"
		}
		if got := sniffFormat(header); got != want {
			t.Fatalf("%s: expected %s, got %s", name, want, got)
		}
	}
}
