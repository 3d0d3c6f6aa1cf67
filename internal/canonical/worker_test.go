package canonical

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testSnapshot() any {
	v, _ := Decode([]byte(`{"websites":[{"url":"https://go.dev"}],"tags":[{"id":1}]}`))
	return v
}

func TestWorkerMatchesDigest(t *testing.T) {
	w := NewWorker(time.Second, slog.Default())
	w.Start(context.Background())
	defer w.Stop()

	want, _ := Digest(testSnapshot())
	got, err := w.Submit(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got != want {
		t.Errorf("worker digest = %s, want %s", got, want)
	}
}

func TestWorkerNotStartedHashesInline(t *testing.T) {
	w := NewWorker(time.Second, slog.Default())

	want, _ := Digest(testSnapshot())
	got, err := w.Submit(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got != want {
		t.Errorf("inline digest = %s, want %s", got, want)
	}
}

func TestWorkerStoppedHashesInline(t *testing.T) {
	w := NewWorker(time.Second, slog.Default())
	w.Start(context.Background())
	w.Stop()
	// Double stop should not block
	w.Stop()

	if _, err := w.Submit(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("submit after stop: %v", err)
	}
}

func TestWorkerJobErrorNotRetried(t *testing.T) {
	w := NewWorker(time.Second, slog.Default())
	calls := 0
	w.digest = func(any) (string, error) {
		calls++
		return "", errors.New("boom")
	}
	w.Start(context.Background())
	defer w.Stop()

	_, err := w.Submit(context.Background(), testSnapshot())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("digest calls = %d, want 1", calls)
	}
}

func TestWorkerPanicBecomesError(t *testing.T) {
	w := NewWorker(time.Second, slog.Default())
	w.digest = func(any) (string, error) { panic("bad snapshot") }
	w.Start(context.Background())
	defer w.Stop()

	if _, err := w.Submit(context.Background(), testSnapshot()); err == nil {
		t.Fatal("expected error from panicking job")
	}
}

func TestWorkerTimeout(t *testing.T) {
	w := NewWorker(20*time.Millisecond, slog.Default())
	release := make(chan struct{})
	w.digest = func(any) (string, error) {
		<-release
		return "late", nil
	}
	w.Start(context.Background())
	defer func() {
		close(release)
		w.Stop()
	}()

	_, err := w.Submit(context.Background(), testSnapshot())
	if err == nil || !strings.Contains(err.Error(), "no reply") {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestWorkerParentCancelledHashesInline(t *testing.T) {
	w := NewWorker(5*time.Second, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	defer w.Stop()

	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker loop did not exit after cancel")
	}

	want, _ := Digest(testSnapshot())
	start := time.Now()
	got, err := w.Submit(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("submit after cancel: %v", err)
	}
	if got != want {
		t.Errorf("digest = %s, want %s", got, want)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("submit waited %s for a dead worker", elapsed)
	}
}
