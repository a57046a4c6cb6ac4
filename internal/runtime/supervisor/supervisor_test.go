package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stockwatch/pkg/logx"
)

func TestWaitCollectsFirstError(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	wantErr := errors.New("boom")
	s.Go("worker", func(ctx context.Context) error { return wantErr })

	if err := s.Wait(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Wait = %v, want %v", err, wantErr)
	}
	if err := s.Err(); err == nil || !strings.Contains(err.Error(), "worker") {
		t.Fatalf("Err = %v, want goroutine name in message", err)
	}
}

func TestPanicRecovered(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	s.Go("panicky", func(ctx context.Context) error { panic("oops") })

	err := s.Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panic in panicky") {
		t.Fatalf("Wait = %v, want recovered panic", err)
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))

	blocked := make(chan struct{})
	s.Go0("blocked", func(ctx context.Context) {
		<-ctx.Done()
		close(blocked)
	})
	s.Go("failing", func(ctx context.Context) error { return errors.New("boom") })

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling goroutine was not cancelled after error")
	}
	_ = s.Wait(context.Background())
}

func TestContextCanceledNotAnError(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("clean shutdown must not report an error, got %v", err)
	}
}

func TestWaitHonorsDeadline(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	release := make(chan struct{})
	s.Go0("slow", func(ctx context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}
