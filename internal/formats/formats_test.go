package formats

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"PNG":    "png",
		".jpg":   "jpg",
		" .WebP": "webp",
		"tiff":   "tiff",
		"":       "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCapabilityTable(t *testing.T) {
	for _, f := range []string{"heic", "heif", "psd", "tif", ".JPG"} {
		if !IsSupportedInput(f) {
			t.Fatalf("expected %q to be a supported input", f)
		}
	}
	for _, f := range []string{"psd", "heic", "tif"} {
		if IsSupportedOutput(f) {
			t.Fatalf("expected %q to be rejected as output", f)
		}
	}
	for _, f := range []string{"svg", "ico", "avif", "gif", "bmp"} {
		if !IsSupportedOutput(f) {
			t.Fatalf("expected %q to be a supported output", f)
		}
	}
	if IsSupportedOutput("xyz") || IsSupportedInput("") {
		t.Fatal("expected unknown formats to be rejected")
	}
}

func TestFromPath(t *testing.T) {
	if got := FromPath("/tmp/photo.HEIC"); got != "heic" {
		t.Fatalf("expected heic, got %q", got)
	}
	if got := FromPath("noext"); got != "" {
		t.Fatalf("expected empty format, got %q", got)
	}
}

func TestListsAreCopies(t *testing.T) {
	out := Outputs()
	out[0] = "mutated"
	if Outputs()[0] != "jpg" {
		t.Fatal("Outputs must not expose the backing table")
	}
	if len(Inputs()) != 14 || len(Outputs()) != 10 {
		t.Fatalf("unexpected table sizes: %d inputs, %d outputs", len(Inputs()), len(Outputs()))
	}
}
