package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/stt"
)

const utterancesResponse = `{
  "metadata": {"request_id": "r-1"},
  "results": {
    "channels": [{"alternatives": [{"transcript": "ignored when utterances exist", "confidence": 0.1}]}],
    "utterances": [
      {"transcript": "second sentence", "confidence": 0.91, "start": 3.2, "end": 5.0,
       "words": [{"word": "second", "punctuated_word": "Second", "start": 3.2, "end": 3.8, "confidence": 0.9}]},
      {"transcript": "first sentence", "confidence": 0.97, "start": 0.1, "end": 2.9}
    ]
  }
}`

const channelsResponse = `{
  "results": {
    "channels": [{"alternatives": [{
      "transcript": "hello world", "confidence": 0.88,
      "words": [
        {"word": "hello", "start": 0.5, "end": 0.9, "confidence": 0.9},
        {"word": "world", "start": 1.0, "end": 1.4, "confidence": 0.86}
      ]
    }]}]
  }
}`

func TestProvider_TranscribeUtterances(t *testing.T) {
	var gotQuery, gotContentType, gotAuth string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, utterancesResponse)
	}))
	defer server.Close()

	p := testProvider(server.URL)
	wav := models.AudioFormat{Encoding: models.EncodingLinear16, SampleRateHz: 16000, Channels: 1, ContainerMimetype: "audio/wav"}
	segs, err := p.Transcribe(context.Background(), []byte("RIFF-payload"), wav)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	if gotAuth != "Token test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "audio/wav" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if string(gotBody) != "RIFF-payload" {
		t.Errorf("body = %q", gotBody)
	}
	for _, want := range []string{"utterances=true", "model=nova-3", "smart_format=true"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
	if strings.Contains(gotQuery, "encoding=") {
		t.Errorf("query %q must not declare an encoding for WAV", gotQuery)
	}

	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Text != "first sentence" || segs[1].Text != "second sentence" {
		t.Errorf("segments not sorted by start: %+v", segs)
	}
	for _, seg := range segs {
		if !seg.IsFinal {
			t.Errorf("segment %q not final", seg.Text)
		}
	}
	if len(segs[1].Words) != 1 || segs[1].Words[0].PunctuatedWord != "Second" {
		t.Errorf("words = %+v", segs[1].Words)
	}
}

func TestProvider_TranscribeChannelsFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, channelsResponse)
	}))
	defer server.Close()

	segs, err := testProvider(server.URL).Transcribe(context.Background(), []byte{1, 2}, rawFormat)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	seg := segs[0]
	if seg.Text != "hello world" || seg.StartTimeS != 0.5 || seg.EndTimeS != 1.4 {
		t.Errorf("segment = %+v", seg)
	}
}

func TestProvider_TranscribeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"err_code":"INVALID_AUTH"}`, stt.ErrAuthenticationFailed},
		{"server error", http.StatusBadGateway, "", stt.ErrBackendUnavailable},
		{"rate limited", http.StatusTooManyRequests, "", stt.ErrBackendUnavailable},
		{"bad request", http.StatusBadRequest, `{"err_msg":"corrupt data"}`, stt.ErrProtocolViolation},
		{"unsupported media", http.StatusUnsupportedMediaType, "", stt.ErrBackendFailure},
		{"malformed body", http.StatusOK, "{", stt.ErrProtocolViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := testProvider(server.URL).Transcribe(context.Background(), []byte{1}, rawFormat)
			if !errors.Is(err, tt.want) {
				t.Errorf("Transcribe() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProvider_TranscribeCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testProvider(server.URL).Transcribe(ctx, []byte{1}, rawFormat)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Transcribe() error = %v, want context.Canceled", err)
	}
}
