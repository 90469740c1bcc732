package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyMedia(t *testing.T) {
	cases := map[string]MediaKind{
		"a.jpg":         MediaPhoto,
		"B.JPEG":        MediaPhoto,
		"c.Png":         MediaPhoto,
		"d.gif":         MediaPhoto,
		"e.mp4":         MediaVideo,
		"f.MOV":         MediaVideo,
		"g.avi":         MediaVideo,
		"h.mkv":         MediaVideo,
		"notes.txt":     MediaUnknown,
		"noext":         MediaUnknown,
		"clip.mp4.part": MediaUnknown,
	}
	for name, want := range cases {
		if got := ClassifyMedia(name); got != want {
			t.Errorf("ClassifyMedia(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestStageError_UnwrapAndKind(t *testing.T) {
	err := fmt.Errorf("pipeline: %w", NewStageError(KindConfig, "fetch", ErrCookiesNotFound))

	if !errors.Is(err, ErrCookiesNotFound) {
		t.Fatal("expected errors.Is to find ErrCookiesNotFound")
	}
	if KindOf(err) != KindConfig {
		t.Errorf("KindOf: got %q, want %q", KindOf(err), KindConfig)
	}
	if got := err.Error(); got != "pipeline: fetch: "+ErrCookiesNotFound.Error() {
		t.Errorf("Error(): got %q", got)
	}
}

func TestKindOf_PlainErrorIsIO(t *testing.T) {
	if KindOf(errors.New("boom")) != KindIO {
		t.Error("plain errors should classify as io")
	}
}
