package channel

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsole_StartPublishesLines(t *testing.T) {
	in := strings.NewReader("https://x.com/a/status/1\n\n   \nhello\n/quit\nnever read\n")
	var out bytes.Buffer
	c := NewConsole(ConsoleConfig{In: in, Out: &out, Logger: testLogger()})
	bus := &captureBus{}

	if err := c.Start(context.Background(), bus); err != nil {
		t.Fatalf("Start: %v", err)
	}

	msgs := bus.messages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "https://x.com/a/status/1" || msgs[1].Content != "hello" {
		t.Errorf("contents = %q, %q", msgs[0].Content, msgs[1].Content)
	}
	for _, m := range msgs {
		if m.ChatID != ConsoleChatID || m.Channel != "console" {
			t.Errorf("unexpected routing fields: %+v", m)
		}
	}
}

func TestConsole_StartStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewConsole(ConsoleConfig{In: strings.NewReader("hello\n"), Out: &bytes.Buffer{}, Logger: testLogger()})
	bus := &captureBus{}

	if err := c.Start(ctx, bus); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(bus.messages()) != 0 {
		t.Error("nothing should be published after cancellation")
	}
}

func TestConsole_SendMedia(t *testing.T) {
	var out bytes.Buffer
	saveDir := filepath.Join(t.TempDir(), "saved")
	c := NewConsole(ConsoleConfig{Out: &out, SaveDir: saveDir, Logger: testLogger()})

	src := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(src, []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := c.SendText(ctx, ConsoleChatID, "Downloading media..."); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := c.SendVideo(ctx, ConsoleChatID, src); err != nil {
		t.Fatalf("SendVideo: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "Downloading media...") {
		t.Errorf("output missing text: %q", got)
	}
	if !strings.Contains(got, "[video] clip.mp4 (5 bytes)") {
		t.Errorf("output missing media line: %q", got)
	}
	data, err := os.ReadFile(filepath.Join(saveDir, "clip.mp4"))
	if err != nil {
		t.Fatalf("saved copy: %v", err)
	}
	if string(data) != "12345" {
		t.Errorf("saved copy = %q", data)
	}
}

func TestConsole_SendPhotoMissingFile(t *testing.T) {
	c := NewConsole(ConsoleConfig{Out: &bytes.Buffer{}, Logger: testLogger()})
	if err := c.SendPhoto(context.Background(), ConsoleChatID, filepath.Join(t.TempDir(), "gone.jpg")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
