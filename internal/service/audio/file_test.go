package audio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"transcription-stream-service/internal/models"
)

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		file string
		want string
	}{
		{"wav magic", EncodeWAV(make([]byte, 4), 16000, 1), "x.bin", "audio/wav"},
		{"id3", []byte("ID3\x03\x00"), "", "audio/mpeg"},
		{"mpeg frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, "", "audio/mpeg"},
		{"ogg", []byte("OggS\x00\x02"), "", "audio/ogg"},
		{"flac", []byte("fLaC\x00"), "", "audio/flac"},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, "", "audio/webm"},
		{"mp4", []byte("\x00\x00\x00\x20ftypM4A "), "", "audio/mp4"},
		{"extension fallback", []byte("garbage"), "clip.M4A", "audio/mp4"},
		{"raw extension", []byte{1, 2, 3}, "capture.pcm", "audio/raw"},
		{"unknown", []byte("garbage"), "notes.txt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data, tt.file); got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	if _, err := Inspect(nil, "a.wav"); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("Inspect(empty) error = %v", err)
	}
	if _, err := Inspect([]byte("RIFF"), "a.wav"); !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("Inspect(short wav) error = %v", err)
	}

	got, err := Inspect([]byte("OggS...."), "a.ogg")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if got != (models.AudioFormat{ContainerMimetype: "audio/ogg"}) {
		t.Errorf("Inspect() = %+v", got)
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.wav")
	if err := os.WriteFile(path, EncodeWAV(make([]byte, 3200), 8000, 1), 0o600); err != nil {
		t.Fatal(err)
	}

	data, detected, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(data) != 3244 {
		t.Errorf("len(data) = %d", len(data))
	}
	if detected.SampleRateHz != 8000 || detected.Encoding != models.EncodingLinear16 {
		t.Errorf("detected = %+v", detected)
	}

	if _, _, err := ReadFile(filepath.Join(dir, "missing.wav")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadFile(missing) error = %v", err)
	}
}

func TestFileSource_ChunksInOrder(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefghij"), 25) // 250 bytes
	src := NewBytesSource("mem", payload, models.AudioFormat{}, FileOptions{ChunkSize: 64})

	var got []byte
	var sizes []int
	err := Pump(context.Background(), src, func(ctx context.Context, chunk []byte) error {
		got = append(got, chunk...)
		sizes = append(sizes, len(chunk))
		return nil
	})
	if err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("reassembled payload differs")
	}
	want := []int{64, 64, 64, 58}
	if len(sizes) != len(want) {
		t.Fatalf("chunk sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("chunk sizes = %v, want %v", sizes, want)
		}
	}
}

func TestFileSource_SendErrorStops(t *testing.T) {
	src := NewBytesSource("mem", make([]byte, 1000), models.AudioFormat{}, FileOptions{ChunkSize: 10})
	boom := errors.New("boom")
	calls := 0
	err := Pump(context.Background(), src, func(ctx context.Context, chunk []byte) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("Pump() error = %v, want boom", err)
	}
	if calls != 3 {
		t.Errorf("send called %d times, want 3", calls)
	}
	if _, _, err := src.Start(context.Background()); !errors.Is(err, ErrSourceStopped) {
		t.Errorf("Start() after stop error = %v", err)
	}
}

func TestFileSource_ContextCancel(t *testing.T) {
	pcm := models.AudioFormat{Encoding: models.EncodingLinear16, SampleRateHz: 16000, Channels: 1}
	// One-second pauses between chunks.
	src := NewBytesSource("mem", make([]byte, 32000*5), pcm, FileOptions{ChunkSize: 32000, Speed: 1})

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	err := Pump(ctx, src, func(ctx context.Context, chunk []byte) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Pump() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation did not interrupt pacing")
	}
}

func TestFileSource_Delay(t *testing.T) {
	pcm := models.AudioFormat{Encoding: models.EncodingLinear16, SampleRateHz: 16000, Channels: 1}
	tests := []struct {
		name   string
		format models.AudioFormat
		speed  float64
		n      int
		want   time.Duration
	}{
		{"real time pcm", pcm, 1, 32000, time.Second},
		{"double speed", pcm, 2, 32000, 500 * time.Millisecond},
		{"unpaced", pcm, 0, 32000, 0},
		{"container uses default rate", models.AudioFormat{ContainerMimetype: "audio/mpeg"}, 1, 16000, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewBytesSource("mem", nil, tt.format, FileOptions{Speed: tt.speed})
			if got := src.Delay(tt.n); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestCaptureConfig(t *testing.T) {
	cfg := DefaultCaptureConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := cfg
	bad.Command = "sox"
	if _, err := NewCaptureSource(bad); err == nil {
		t.Error("expected error for unsupported command")
	}
	bad = cfg
	bad.SampleRate = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestCaptureSource_Args(t *testing.T) {
	tests := []struct {
		name   string
		config CaptureConfig
		want   []string
	}{
		{
			name:   "pw-record",
			config: CaptureConfig{Command: "pw-record", SampleRate: 16000, Channels: 1, ChunkSize: 1024, ChannelBuffer: 1},
			want:   []string{"--format", "s16", "--rate", "16000", "--channels", "1", "-"},
		},
		{
			name:   "pw-record with target",
			config: CaptureConfig{Command: "/usr/bin/pw-record", SampleRate: 48000, Channels: 2, ChunkSize: 1024, ChannelBuffer: 1, Device: "mic"},
			want:   []string{"--format", "s16", "--rate", "48000", "--channels", "2", "--target", "mic", "-"},
		},
		{
			name:   "arecord",
			config: CaptureConfig{Command: "arecord", SampleRate: 8000, Channels: 1, ChunkSize: 1024, ChannelBuffer: 1, Device: "hw:0"},
			want:   []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "8000", "-c", "1", "-D", "hw:0", "-"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewCaptureSource(tt.config)
			if err != nil {
				t.Fatalf("NewCaptureSource() error = %v", err)
			}
			got := src.Args()
			if len(got) != len(tt.want) {
				t.Fatalf("Args() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Args() = %v, want %v", got, tt.want)
				}
			}
			if f := src.Format(); f.SampleRateHz != tt.config.SampleRate || f.Encoding != models.EncodingLinear16 {
				t.Errorf("Format() = %+v", f)
			}
		})
	}
}
