package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/observability/metrics"
)

func segment(i int) models.TranscriptSegment {
	return models.TranscriptSegment{
		Text:       fmt.Sprintf("segment %d", i),
		Confidence: 0.9,
		IsFinal:    i%2 == 0,
		StartTimeS: float64(i),
		EndTimeS:   float64(i + 1),
	}
}

func TestRelay_PreservesOrderUnderContention(t *testing.T) {
	r := New(4, nil)
	const n = 500

	go func() {
		ctx := context.Background()
		_ = r.Publish(ctx, Connected())
		_ = r.Publish(ctx, Started())
		for i := 0; i < n; i++ {
			if err := r.Publish(ctx, Transcript(segment(i))); err != nil {
				t.Errorf("Publish(%d) error = %v", i, err)
				return
			}
		}
		_ = r.Publish(ctx, Closed())
	}()

	var got []Event
	for ev := range r.Events() {
		got = append(got, ev)
		if len(got)%50 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	if len(got) != n+3 {
		t.Fatalf("expected %d events, got %d", n+3, len(got))
	}
	if got[0].Kind != KindConnected || got[1].Kind != KindStarted {
		t.Fatalf("unexpected leading events: %v %v", got[0], got[1])
	}
	for i := 0; i < n; i++ {
		ev := got[i+2]
		if ev.Kind != KindTranscript || ev.Segment.Text != fmt.Sprintf("segment %d", i) {
			t.Fatalf("event %d = %v, want segment %d", i+2, ev, i)
		}
	}
	if got[len(got)-1].Kind != KindClosed {
		t.Errorf("last event = %v, want closed", got[len(got)-1])
	}
}

func TestRelay_BlocksWhenFullAndNeverDrops(t *testing.T) {
	r := New(2, nil)
	ctx := context.Background()

	_ = r.Publish(ctx, Transcript(segment(0)))
	_ = r.Publish(ctx, Transcript(segment(1)))

	done := make(chan error, 1)
	go func() {
		done <- r.Publish(ctx, Transcript(segment(2)))
	}()

	select {
	case err := <-done:
		t.Fatalf("Publish returned while queue full: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	first := <-r.Events()
	if first.Segment.Text != "segment 0" {
		t.Fatalf("first = %v", first)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Publish error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish did not unblock after a read")
	}

	second := <-r.Events()
	third := <-r.Events()
	if second.Segment.Text != "segment 1" || third.Segment.Text != "segment 2" {
		t.Errorf("got %v, %v", second, third)
	}
}

func TestRelay_TerminalEventClosesQueue(t *testing.T) {
	r := New(8, nil)
	ctx := context.Background()

	_ = r.Publish(ctx, Transcript(segment(0)))
	if err := r.Publish(ctx, Failure(errors.New("boom"))); err != nil {
		t.Fatalf("Publish(Failure) error = %v", err)
	}
	if err := r.Publish(ctx, Closed()); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after terminal = %v, want ErrClosed", err)
	}

	var kinds []Kind
	for ev := range r.Events() {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 2 || kinds[1] != KindError {
		t.Errorf("kinds = %v, want [transcript error]", kinds)
	}
}

func TestRelay_AbandonReleasesBlockedProducer(t *testing.T) {
	r := New(1, nil)
	ctx := context.Background()
	_ = r.Publish(ctx, Started())

	done := make(chan error, 1)
	go func() {
		done <- r.Publish(ctx, Transcript(segment(1)))
	}()

	time.Sleep(20 * time.Millisecond)
	r.Abandon()
	r.Abandon()

	select {
	case err := <-done:
		if !errors.Is(err, ErrAbandoned) {
			t.Errorf("Publish error = %v, want ErrAbandoned", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Abandon did not release producer")
	}

	if err := r.Publish(ctx, Closed()); !errors.Is(err, ErrAbandoned) {
		t.Errorf("terminal Publish after abandon = %v, want ErrAbandoned", err)
	}
	// The queue still closes so a late reader terminates.
	for range r.Events() {
	}
}

func TestRelay_PublishHonoursContext(t *testing.T) {
	r := New(1, nil)
	_ = r.Publish(context.Background(), Started())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Publish(ctx, Transcript(segment(0))); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish error = %v, want deadline exceeded", err)
	}
}

func TestRelay_DefaultCapacity(t *testing.T) {
	if got := New(0, nil).Cap(); got != DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", got, DefaultCapacity)
	}
}

func TestRelay_TranscriptCopiesWords(t *testing.T) {
	seg := segment(0)
	seg.Words = []models.WordTiming{{Word: "hello", EndTimeS: 0.5}}
	ev := Transcript(seg)
	seg.Words[0].Word = "mutated"
	if ev.Segment.Words[0].Word != "hello" {
		t.Error("event shares word storage with the source segment")
	}
}

func TestRelay_RecordsBlockedPublishes(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	r := New(1, m)
	ctx := context.Background()
	_ = r.Publish(ctx, Started())

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-r.Events()
	}()
	_ = r.Publish(ctx, Transcript(segment(0)))

	if got := testutil.ToFloat64(m.RelayBlockedTotal); got != 1 {
		t.Errorf("RelayBlockedTotal = %v, want 1", got)
	}
}
